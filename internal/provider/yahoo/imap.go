package yahoo

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"

	"github.com/teemow/mailsync/internal/model"
	"github.com/teemow/mailsync/internal/provider"
)

// fetchedMessage is one message read from an IMAP mailbox.
type fetchedMessage struct {
	UID          uint32
	Flags        []imap.Flag
	InternalDate time.Time
	Envelope     *imap.Envelope
	Body         []byte
}

type mailboxReader interface {
	// Fetch returns up to max of the newest messages of mailbox, newest first.
	Fetch(ctx context.Context, email, accessToken, mailbox string, max int) ([]fetchedMessage, error)
}

type imapReader struct {
	addr string
}

func (r *imapReader) Fetch(ctx context.Context, email, accessToken, mailbox string, max int) ([]fetchedMessage, error) {
	var dialer tls.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", r.addr)
	if err != nil {
		return nil, provider.TransportError(ctx, model.ProviderYahoo, "imap_dial", err)
	}
	client := imapclient.New(conn, nil)
	defer client.Close()
	// Closing the connection unblocks any pending command on cancellation.
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	host, portStr, _ := net.SplitHostPort(r.addr)
	port, _ := strconv.Atoi(portStr)
	saslClient := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: email,
		Token:    accessToken,
		Host:     host,
		Port:     port,
	})
	if err := client.Authenticate(saslClient); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &model.ProviderError{
			Provider: model.ProviderYahoo,
			Op:       "imap_authenticate",
			Kind:     model.KindUnauthorized,
			Err:      err,
		}
	}
	defer func() { _ = client.Logout().Wait() }()

	sel, err := client.Select(mailbox, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return nil, r.commandError(ctx, "imap_select", err)
	}
	if sel.NumMessages == 0 {
		return nil, nil
	}

	start := uint32(1)
	if sel.NumMessages > uint32(max) {
		start = sel.NumMessages - uint32(max) + 1
	}
	var seqSet imap.SeqSet
	seqSet.AddRange(start, sel.NumMessages)

	bodySection := &imap.FetchItemBodySection{Peek: true}
	bufs, err := client.Fetch(seqSet, &imap.FetchOptions{
		UID:          true,
		Flags:        true,
		Envelope:     true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	}).Collect()
	if err != nil {
		return nil, r.commandError(ctx, "imap_fetch", err)
	}

	out := make([]fetchedMessage, 0, len(bufs))
	for i := len(bufs) - 1; i >= 0; i-- {
		buf := bufs[i]
		out = append(out, fetchedMessage{
			UID:          uint32(buf.UID),
			Flags:        buf.Flags,
			InternalDate: buf.InternalDate,
			Envelope:     buf.Envelope,
			Body:         buf.FindBodySection(bodySection),
		})
	}
	return out, nil
}

func (r *imapReader) commandError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, ok := err.(*imap.Error); ok {
		return fmt.Errorf("yahoo %s: %w", op, err)
	}
	return provider.TransportError(ctx, model.ProviderYahoo, op, err)
}

// convertMessage maps a fetched IMAP message to a ProviderMessage. UIDs are
// only unique per mailbox, so the id is scoped by the mailbox name.
func convertMessage(fm fetchedMessage, mailbox, folder string, now time.Time) (model.ProviderMessage, error) {
	if fm.UID == 0 {
		return model.ProviderMessage{}, fmt.Errorf("%w: message has no uid", model.ErrMessageMapping)
	}
	if fm.Envelope == nil && len(fm.Body) == 0 {
		return model.ProviderMessage{}, fmt.Errorf("%w: message %d has neither envelope nor body", model.ErrMessageMapping, fm.UID)
	}

	pm := model.ProviderMessage{
		ID:         fmt.Sprintf("%s:%d", mailbox, fm.UID),
		Folder:     folder,
		MIME:       fm.Body,
		ReceivedAt: now.UTC(),
	}
	for _, f := range fm.Flags {
		if f == imap.FlagSeen {
			pm.Read = true
		}
	}

	if env := fm.Envelope; env != nil {
		pm.Subject = env.Subject
		pm.SecondaryID = env.MessageID
		if len(env.From) > 0 {
			pm.From = formatAddress(env.From[0])
		}
		to := make([]string, 0, len(env.To))
		for _, addr := range env.To {
			to = append(to, formatAddress(addr))
		}
		pm.To = strings.Join(to, ", ")
		if !env.Date.IsZero() {
			pm.ReceivedAt = env.Date.UTC()
		}
	}
	if !fm.InternalDate.IsZero() {
		pm.ReceivedAt = fm.InternalDate.UTC()
	}
	return pm, nil
}

func formatAddress(addr imap.Address) string {
	if addr.Name != "" {
		return fmt.Sprintf("%s <%s>", addr.Name, addr.Addr())
	}
	return addr.Addr()
}
