package mailbody

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/teemow/mailsync/internal/model"
)

func init() {
	message.CharsetReader = CharsetReader
}

// ParseMIME extracts the inline text parts of an RFC 5322 message.
// Returned parts are transfer-decoded and converted to UTF-8.
func ParseMIME(raw []byte) ([]model.BodyPart, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parsing message: %w", err)
	}
	defer mr.Close()

	var parts []model.BodyPart
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return parts, fmt.Errorf("reading message part: %w", err)
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, err := h.ContentType()
		if err != nil {
			mediaType = "text/plain"
		}
		mediaType = strings.ToLower(mediaType)
		if !strings.HasPrefix(mediaType, "text/") {
			continue
		}

		body, err := io.ReadAll(p.Body)
		if err != nil {
			return parts, fmt.Errorf("reading %s part: %w", mediaType, err)
		}
		parts = append(parts, model.BodyPart{MIMEType: mediaType, Data: body})
	}

	return parts, nil
}

// Extract returns the plain text body of msg.
// A message without text content yields an empty body.
func Extract(msg model.ProviderMessage) (string, error) {
	parts := msg.Parts
	if len(parts) == 0 && len(msg.MIME) > 0 {
		var err error
		parts, err = ParseMIME(msg.MIME)
		if err != nil && len(parts) == 0 {
			return "", fmt.Errorf("%w: message %s: %v", model.ErrMessageMapping, msg.ID, err)
		}
	}
	return FromParts(parts), nil
}

// FromParts picks the best body from decoded parts: the first non-empty
// text/plain part, otherwise the first text/html part reduced to text.
func FromParts(parts []model.BodyPart) string {
	for _, p := range parts {
		if p.MIMEType == "text/plain" && len(p.Data) > 0 {
			return strings.TrimSpace(normalizeNewlines(DecodeCharset(p.Data, p.Charset)))
		}
	}
	for _, p := range parts {
		if p.MIMEType == "text/html" && len(p.Data) > 0 {
			return HTMLToText(DecodeCharset(p.Data, p.Charset))
		}
	}
	return ""
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
