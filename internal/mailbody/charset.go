package mailbody

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

func isUTF8(charset string) bool {
	switch charset {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return true
	}
	return false
}

func lookupEncoding(charset string) (encoding.Encoding, error) {
	switch charset {
	case "latin1", "latin-1":
		return charmap.ISO8859_1, nil
	}
	if enc, err := ianaindex.IANA.Encoding(charset); err == nil && enc != nil {
		return enc, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", charset, err)
	}
	return enc, nil
}

// DecodeCharset converts data in the named charset to UTF-8.
// UTF-8 input that is not valid UTF-8 is read as Latin-1. Unknown charsets
// fall back the same way.
func DecodeCharset(data []byte, charset string) string {
	charset = strings.ToLower(strings.TrimSpace(charset))

	if isUTF8(charset) {
		if utf8.Valid(data) {
			return string(data)
		}
		return latin1(data)
	}

	enc, err := lookupEncoding(charset)
	if err != nil {
		if utf8.Valid(data) {
			return string(data)
		}
		return latin1(data)
	}

	out, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return latin1(data)
	}
	return string(out)
}

// CharsetReader decodes input from charset. It matches the signature of
// message.CharsetReader.
func CharsetReader(charset string, input io.Reader) (io.Reader, error) {
	charset = strings.ToLower(strings.TrimSpace(charset))
	if isUTF8(charset) {
		return input, nil
	}
	enc, err := lookupEncoding(charset)
	if err != nil {
		return nil, err
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}

func latin1(data []byte) string {
	out, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), data)
	if err != nil {
		return string(bytes.ToValidUTF8(data, []byte("�")))
	}
	return string(out)
}
