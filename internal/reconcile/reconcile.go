// Package reconcile pulls messages from provider mailboxes into the canonical
// store. Messages are keyed by (account, provider message id); a message that
// was stored before is counted as skipped and never overwritten.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/teemow/mailsync/internal/instrumentation"
	"github.com/teemow/mailsync/internal/logging"
	"github.com/teemow/mailsync/internal/model"
	"github.com/teemow/mailsync/internal/provider"
	"github.com/teemow/mailsync/internal/store"
)

// Defaults.
const (
	DefaultMaxMessages = 100
	DefaultConcurrency = 4
)

// NoAccountsError is recorded when a user has nothing to sync.
const NoAccountsError = "no active email accounts found for user"

// Accounts is the slice of the account registry the reconciler needs.
type Accounts interface {
	FindByUser(ctx context.Context, userID string) ([]model.EmailAccount, error)
	MarkSynced(ctx context.Context, accountID string, at time.Time) error
	AdapterFor(acc *model.EmailAccount) (provider.Adapter, error)
}

// Credentials hands out usable access tokens.
type Credentials interface {
	GetValidCredentials(ctx context.Context, acc *model.EmailAccount) (model.TokenPair, error)
	ForceRefresh(ctx context.Context, acc *model.EmailAccount, rejected string) (model.TokenPair, error)
}

// Messages persists canonical messages.
type Messages interface {
	UpsertByKey(ctx context.Context, msg model.CanonicalEmailMessage) (store.UpsertOutcome, error)
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithConcurrency bounds how many accounts of one user sync in parallel.
func WithConcurrency(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithDefaultMax sets the message limit used when a caller passes none.
func WithDefaultMax(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.defaultMax = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

// WithMetrics records sync runs and message outcomes.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// Reconciler syncs accounts.
type Reconciler struct {
	accounts    Accounts
	creds       Credentials
	messages    Messages
	concurrency int
	defaultMax  int
	now         func() time.Time
	logger      *slog.Logger
	metrics     *instrumentation.Metrics
}

// New creates a Reconciler.
func New(accounts Accounts, creds Credentials, messages Messages, opts ...Option) *Reconciler {
	r := &Reconciler{
		accounts:    accounts,
		creds:       creds,
		messages:    messages,
		concurrency: DefaultConcurrency,
		defaultMax:  DefaultMaxMessages,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "reconcile")
	return r
}

// SyncAccount syncs up to maxMessages of folder for one account. It never
// returns an error; failures are reported in the result. On cancellation the
// partial result is returned with a "sync cancelled" entry.
func (r *Reconciler) SyncAccount(ctx context.Context, acc *model.EmailAccount, maxMessages int, folder string) model.SyncResult {
	res := r.syncAccount(ctx, acc, maxMessages, folder)
	if err := ctx.Err(); err != nil {
		res.AddError("sync cancelled: %v", err)
	}
	return res.Finalize(r.now())
}

// SyncUser syncs every active account of userID in parallel, bounded by the
// configured concurrency. One account's failure never blocks the others;
// its errors are reported as "account <email>: <error>".
func (r *Reconciler) SyncUser(ctx context.Context, userID string, maxMessages int, folder string) model.SyncResult {
	var total model.SyncResult

	accounts, err := r.accounts.FindByUser(ctx, userID)
	if err != nil {
		if ctx.Err() != nil {
			total.AddError("sync cancelled: %v", ctx.Err())
		} else {
			total.AddError("listing accounts: %v", err)
		}
		return total.Finalize(r.now())
	}
	if len(accounts) == 0 {
		total.AddError(NoAccountsError)
		return total.Finalize(r.now())
	}

	results := make([]model.SyncResult, len(accounts))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i := range accounts {
		acc := &accounts[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res := r.syncAccount(ctx, acc, maxMessages, folder)
			for j, e := range res.Errors {
				res.Errors[j] = fmt.Sprintf("account %s: %s", acc.Email, e)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		total.Merge(res)
	}
	if err := ctx.Err(); err != nil {
		total.AddError("sync cancelled: %v", err)
	}
	return total.Finalize(r.now())
}

func (r *Reconciler) syncAccount(ctx context.Context, acc *model.EmailAccount, maxMessages int, folder string) model.SyncResult {
	if maxMessages <= 0 {
		maxMessages = r.defaultMax
	}
	if folder == "" {
		folder = provider.DefaultFolder
	}

	ctx, span := instrumentation.StartSyncSpan(ctx, string(acc.Provider), acc.ID)
	defer span.End()
	start := time.Now()
	logger := logging.WithProvider(logging.WithAccount(r.logger, acc.ID), string(acc.Provider))

	var res model.SyncResult
	defer func() {
		status := instrumentation.StatusSuccess
		if len(res.Errors) > 0 || ctx.Err() != nil {
			status = instrumentation.StatusError
			instrumentation.SetSpanError(span, fmt.Errorf("sync finished with %d errors", len(res.Errors)))
		} else {
			instrumentation.SetSpanSuccess(span)
		}
		span.SetAttributes(attribute.Int(instrumentation.SpanAttrMessages, res.MessagesSeen))
		r.metrics.RecordSyncRun(ctx, string(acc.Provider), acc.ID, status, time.Since(start))
		r.metrics.RecordSyncMessages(ctx, string(acc.Provider), instrumentation.MessageCreated, res.MessagesCreated)
		r.metrics.RecordSyncMessages(ctx, string(acc.Provider), instrumentation.MessageSkipped, res.MessagesSkipped)
		logger.Info("account sync finished",
			logging.Status(status),
			slog.Int("seen", res.MessagesSeen),
			slog.Int("created", res.MessagesCreated),
			slog.Int("skipped", res.MessagesSkipped),
			slog.Int("errors", len(res.Errors)),
			slog.Duration(logging.KeyDuration, time.Since(start)))
	}()

	adapter, err := r.accounts.AdapterFor(acc)
	if err != nil {
		res.AddError("%v", err)
		return res
	}

	tokens, err := r.creds.GetValidCredentials(ctx, acc)
	if err != nil {
		if ctx.Err() == nil {
			res.AddError("%v", credentialError(err))
		}
		return res
	}

	msgs, err := adapter.ListMessages(ctx, tokens.AccessToken, folder, maxMessages)
	if err != nil && errors.Is(err, model.ErrUnauthorized) && ctx.Err() == nil {
		logger.Info("access token rejected, forcing refresh")
		tokens, err = r.creds.ForceRefresh(ctx, acc, tokens.AccessToken)
		if err == nil {
			msgs, err = adapter.ListMessages(ctx, tokens.AccessToken, folder, maxMessages)
		} else {
			err = credentialError(err)
		}
	}
	if err != nil {
		if ctx.Err() == nil {
			res.AddError("listing messages: %v", err)
		}
		return res
	}
	res.MessagesSeen = len(msgs)

	for _, pm := range msgs {
		if ctx.Err() != nil {
			return res
		}
		msg, err := r.canonical(adapter, acc, pm, folder)
		if err != nil {
			res.AddError("%v", err)
			r.metrics.RecordSyncMessages(ctx, string(acc.Provider), instrumentation.MessageFailed, 1)
			logger.Warn("message could not be mapped", "message_id", pm.ID, logging.Err(err))
			continue
		}
		outcome, err := r.messages.UpsertByKey(ctx, msg)
		if err != nil {
			if ctx.Err() != nil {
				return res
			}
			res.AddError("message %s: %v", pm.ID, err)
			r.metrics.RecordSyncMessages(ctx, string(acc.Provider), instrumentation.MessageFailed, 1)
			continue
		}
		switch outcome {
		case store.OutcomeCreated:
			res.MessagesCreated++
		case store.OutcomeExisting:
			res.MessagesSkipped++
		}
	}

	if err := r.accounts.MarkSynced(ctx, acc.ID, r.now()); err != nil && ctx.Err() == nil {
		res.AddError("recording sync time: %v", err)
	}
	return res
}

// canonical maps a provider message to its stored form.
func (r *Reconciler) canonical(adapter provider.Adapter, acc *model.EmailAccount, pm model.ProviderMessage, folder string) (model.CanonicalEmailMessage, error) {
	if pm.ID == "" {
		return model.CanonicalEmailMessage{}, fmt.Errorf("%w: message without provider id", model.ErrMessageMapping)
	}
	body, err := adapter.FetchMessageBody(pm)
	if err != nil {
		if !errors.Is(err, model.ErrMessageMapping) {
			err = fmt.Errorf("%w: message %s: %w", model.ErrMessageMapping, pm.ID, err)
		}
		return model.CanonicalEmailMessage{}, err
	}

	received := pm.ReceivedAt
	if received.IsZero() {
		received = r.now()
	}
	if pm.Folder != "" {
		folder = pm.Folder
	}
	return model.CanonicalEmailMessage{
		AccountID:         acc.ID,
		UserID:            acc.UserID,
		ProviderMessageID: pm.ID,
		ThreadID:          pm.ThreadID,
		Owner:             acc.Email,
		Sender:            pm.From,
		Recipients:        pm.To,
		Subject:           pm.Subject,
		Body:              body,
		Summary:           pm.Snippet,
		Read:              pm.Read,
		Folder:            folder,
		ReceivedAt:        received.UTC(),
		SecondaryID:       pm.SecondaryID,
		Raw:               string(pm.Raw),
	}, nil
}

// credentialError keeps re-authorization failures recognisable in results.
func credentialError(err error) error {
	if errors.Is(err, model.ErrReAuthRequired) {
		return fmt.Errorf("reconnect required: %w", err)
	}
	return err
}
