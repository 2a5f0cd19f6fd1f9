// Package mailbody turns provider message content into the plain text body
// stored on a canonical message.
//
// A text/plain part is preferred. Otherwise the first text/html part is
// reduced to text: tags are dropped, script and style content is skipped,
// entities are decoded and whitespace runs (including non-breaking spaces)
// collapse to a single space. Parts are decoded from their declared charset
// first, and full RFC 5322 sources are parsed with go-message.
package mailbody
