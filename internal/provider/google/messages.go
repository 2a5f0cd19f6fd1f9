package google

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/mail"
	"strconv"
	"strings"
	"time"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/teemow/mailsync/internal/logging"
	"github.com/teemow/mailsync/internal/model"
	"github.com/teemow/mailsync/internal/provider"
)

const maxPageSize = 500

// folderLabels maps Gmail system labels to canonical folders, in priority order.
var folderLabels = []struct {
	label  string
	folder string
}{
	{"INBOX", "inbox"},
	{"SENT", "sent"},
	{"DRAFT", "drafts"},
	{"SPAM", "spam"},
	{"TRASH", "trash"},
	{"IMPORTANT", "important"},
	{"STARRED", "starred"},
}

// labelQueries maps canonical folder names to Gmail search terms.
var labelQueries = map[string]string{
	"inbox":     "in:inbox",
	"sent":      "in:sent",
	"drafts":    "in:drafts",
	"spam":      "in:spam",
	"trash":     "in:trash",
	"important": "is:important",
	"starred":   "is:starred",
}

// ListMessages implements provider.Adapter. folder is a canonical folder name
// or a Gmail label name.
func (a *Adapter) ListMessages(ctx context.Context, accessToken, folder string, max int) ([]model.ProviderMessage, error) {
	if max <= 0 {
		max = 100
	}
	svc, err := a.gmailService(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	ids, err := a.listIDs(ctx, svc, folderQuery(folder), max)
	if err != nil {
		return nil, err
	}

	logger := logging.WithOperation(a.logger, "list_messages")
	out := make([]model.ProviderMessage, 0, len(ids))
	for _, id := range ids {
		msg, err := provider.Call(ctx, a.caller, model.ProviderGoogle, "get_message", func(ctx context.Context) (*gmail.Message, error) {
			m, err := svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
			if err != nil {
				return nil, a.apiError(ctx, "get_message", err)
			}
			return m, nil
		})
		if err != nil {
			if ctx.Err() != nil || model.IsRetryable(err) || model.IsAuthFailure(err) {
				return nil, err
			}
			logger.Warn("skipping message that could not be fetched", "message_id", id, logging.Err(err))
			continue
		}

		pm, err := convertMessage(msg, a.now())
		if err != nil {
			logger.Warn("dropping malformed message", "message_id", id, logging.Err(err))
			continue
		}
		out = append(out, pm)
	}
	return out, nil
}

func (a *Adapter) listIDs(ctx context.Context, svc *gmail.Service, query string, max int) ([]string, error) {
	var ids []string
	pageToken := ""
	for len(ids) < max {
		size := max - len(ids)
		if size > maxPageSize {
			size = maxPageSize
		}
		resp, err := provider.Call(ctx, a.caller, model.ProviderGoogle, "list_messages", func(ctx context.Context) (*gmail.ListMessagesResponse, error) {
			call := svc.Users.Messages.List("me").Q(query).MaxResults(int64(size)).Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			r, err := call.Do()
			if err != nil {
				return nil, a.apiError(ctx, "list_messages", err)
			}
			return r, nil
		})
		if err != nil {
			return nil, err
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		if resp.NextPageToken == "" || len(resp.Messages) == 0 {
			break
		}
		pageToken = resp.NextPageToken
	}
	if len(ids) > max {
		ids = ids[:max]
	}
	return ids, nil
}

func folderQuery(folder string) string {
	folder = strings.TrimSpace(folder)
	if folder == "" {
		folder = provider.DefaultFolder
	}
	if q, ok := labelQueries[strings.ToLower(folder)]; ok {
		return q
	}
	if strings.ContainsAny(folder, " \"") {
		return fmt.Sprintf("label:%q", folder)
	}
	return "label:" + folder
}

// folderFromLabels picks the canonical folder of a message from its labels.
func folderFromLabels(labels []string) string {
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[l] = true
	}
	for _, fl := range folderLabels {
		if set[fl.label] {
			return fl.folder
		}
	}
	for _, l := range labels {
		if strings.HasPrefix(l, "Label_") || strings.HasPrefix(l, "CATEGORY_") || l == "UNREAD" {
			continue
		}
		return l
	}
	return provider.DefaultFolder
}

// convertMessage maps a full-format Gmail message to a ProviderMessage.
func convertMessage(msg *gmail.Message, now time.Time) (model.ProviderMessage, error) {
	if msg == nil || msg.Id == "" {
		return model.ProviderMessage{}, fmt.Errorf("%w: message has no id", model.ErrMessageMapping)
	}
	if msg.Payload == nil {
		return model.ProviderMessage{}, fmt.Errorf("%w: message %s has no payload", model.ErrMessageMapping, msg.Id)
	}

	pm := model.ProviderMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Folder:   folderFromLabels(msg.LabelIds),
		Read:     true,
	}
	if msg.HistoryId != 0 {
		pm.SecondaryID = strconv.FormatUint(msg.HistoryId, 10)
	}
	for _, l := range msg.LabelIds {
		if l == "UNREAD" {
			pm.Read = false
		}
	}

	var date string
	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			pm.From = h.Value
		case "to":
			pm.To = h.Value
		case "subject":
			pm.Subject = h.Value
		case "date":
			date = h.Value
		}
	}
	pm.ReceivedAt = receivedAt(msg.InternalDate, date, now)

	var err error
	walkParts(msg.Payload, func(part *gmail.MessagePart) {
		if err != nil || part.Body == nil || part.Body.Data == "" || part.Filename != "" {
			return
		}
		mimeType := strings.ToLower(part.MimeType)
		if mimeType != "text/plain" && mimeType != "text/html" {
			return
		}
		data, derr := decodeBody(part.Body.Data)
		if derr != nil {
			err = fmt.Errorf("%w: message %s: %v", model.ErrMessageMapping, msg.Id, derr)
			return
		}
		pm.Parts = append(pm.Parts, model.BodyPart{
			MIMEType: mimeType,
			Charset:  partCharset(part),
			Data:     data,
		})
	})
	if err != nil {
		return model.ProviderMessage{}, err
	}

	raw, jerr := json.Marshal(msg)
	if jerr == nil {
		pm.Raw = raw
	}
	return pm, nil
}

// receivedAt prefers Gmail's internal date, then the Date header, then now.
func receivedAt(internalMillis int64, dateHeader string, now time.Time) time.Time {
	if internalMillis > 0 {
		return time.UnixMilli(internalMillis).UTC()
	}
	if dateHeader != "" {
		if t, err := mail.ParseDate(dateHeader); err == nil {
			return t.UTC()
		}
	}
	return now.UTC()
}

func partCharset(part *gmail.MessagePart) string {
	for _, h := range part.Headers {
		if !strings.EqualFold(h.Name, "Content-Type") {
			continue
		}
		if _, params, err := mime.ParseMediaType(h.Value); err == nil {
			return params["charset"]
		}
	}
	return ""
}

// decodeBody decodes base64url body data, tolerating missing padding and
// the standard alphabet.
func decodeBody(data string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return b, nil
	}
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return b, nil
	}
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, errors.New("failed to decode message body")
	}
	return b, nil
}

// walkParts recursively walks through message parts
func walkParts(part *gmail.MessagePart, fn func(*gmail.MessagePart)) {
	if part == nil {
		return
	}

	fn(part)

	for _, subpart := range part.Parts {
		walkParts(subpart, fn)
	}
}
