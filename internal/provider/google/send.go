package google

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strings"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/teemow/mailsync/internal/model"
	"github.com/teemow/mailsync/internal/provider"
)

// Send implements provider.Adapter by posting a raw RFC 2822 message.
func (a *Adapter) Send(ctx context.Context, accessToken string, to []string, subject, body string, isHTML bool) (string, error) {
	raw, err := buildMessage(to, subject, body, isHTML)
	if err != nil {
		return "", err
	}
	svc, err := a.gmailService(ctx, accessToken)
	if err != nil {
		return "", fmt.Errorf("failed to create Gmail service: %w", err)
	}

	gmailMsg := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}
	return provider.Call(ctx, a.caller, model.ProviderGoogle, "send", func(ctx context.Context) (string, error) {
		sent, err := svc.Users.Messages.Send("me", gmailMsg).Context(ctx).Do()
		if err != nil {
			return "", a.apiError(ctx, "send", err)
		}
		return sent.Id, nil
	})
}

// buildMessage renders an RFC 2822 message with a single text part.
func buildMessage(to []string, subject, body string, isHTML bool) ([]byte, error) {
	if len(to) == 0 {
		return nil, errors.New("at least one recipient is required")
	}
	if subject == "" {
		return nil, errors.New("subject is required")
	}

	var b strings.Builder
	b.WriteString("To: ")
	b.WriteString(strings.Join(to, ", "))
	b.WriteString("\r\n")

	b.WriteString("Subject: ")
	b.WriteString(encodeRFC2047(subject))
	b.WriteString("\r\n")

	if isHTML {
		b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	} else {
		b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)

	return []byte(b.String()), nil
}

// encodeRFC2047 encodes non-ASCII header values, e.g. subjects with umlauts.
func encodeRFC2047(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.BEncoding.Encode("UTF-8", s)
		}
	}
	return s
}
