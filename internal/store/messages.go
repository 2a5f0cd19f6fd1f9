package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/mailsync/internal/model"
)

// UpsertOutcome reports what UpsertByKey did.
type UpsertOutcome int

const (
	// OutcomeCreated means a new row was inserted.
	OutcomeCreated UpsertOutcome = iota + 1
	// OutcomeExisting means the (account, provider message id) key was already stored.
	OutcomeExisting
)

func (o UpsertOutcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeExisting:
		return "existing"
	default:
		return "unknown"
	}
}

// MessageQuery filters ListMessages.
type MessageQuery struct {
	UserID    string
	AccountID string
	Folder    string
	Unread    bool
	Limit     int
	Offset    int
}

// SyncStatus summarises the stored mail of one user.
type SyncStatus struct {
	TotalMessages  int            `json:"total_messages"`
	UnreadMessages int            `json:"unread_messages"`
	Folders        map[string]int `json:"folders"`
	Accounts       int            `json:"accounts"`
	LastSyncedAt   *time.Time     `json:"last_synced_at,omitempty"`
}

const messageColumns = `id, account_id, user_id, provider_message_id, thread_id, owner,
	sender, recipients, subject, body, summary, is_read, folder, received_at,
	secondary_id, raw_data, created_at, updated_at`

// UpsertByKey stores msg unless its (AccountID, ProviderMessageID) key exists.
// Existing rows are never overwritten.
func (s *Store) UpsertByKey(ctx context.Context, msg model.CanonicalEmailMessage) (UpsertOutcome, error) {
	if msg.AccountID == "" || msg.ProviderMessageID == "" {
		return 0, fmt.Errorf("message requires account id and provider message id")
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Folder == "" {
		msg.Folder = "inbox"
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO email_messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, provider_message_id) DO NOTHING`),
		msg.ID, msg.AccountID, msg.UserID, msg.ProviderMessageID, msg.ThreadID, msg.Owner,
		msg.Sender, msg.Recipients, msg.Subject, msg.Body, msg.Summary, boolToInt(msg.Read),
		msg.Folder, msg.ReceivedAt.UTC(), msg.SecondaryID, msg.Raw, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("upserting message %s: %w", msg.ProviderMessageID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return OutcomeExisting, nil
	}
	return OutcomeCreated, nil
}

// GetMessage looks a message up by its dedup key.
func (s *Store) GetMessage(ctx context.Context, accountID, providerMessageID string) (*model.CanonicalEmailMessage, error) {
	var msg model.CanonicalEmailMessage
	err := s.db.GetContext(ctx, &msg, s.q(`SELECT `+messageColumns+`
		FROM email_messages WHERE account_id = ? AND provider_message_id = ?`),
		accountID, providerMessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", providerMessageID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", providerMessageID, err)
	}
	return &msg, nil
}

// ListMessages returns a user's messages, newest first.
func (s *Store) ListMessages(ctx context.Context, q MessageQuery) ([]model.CanonicalEmailMessage, error) {
	conditions := []string{"user_id = ?"}
	args := []any{q.UserID}

	if q.AccountID != "" {
		conditions = append(conditions, "account_id = ?")
		args = append(args, q.AccountID)
	}
	if q.Folder != "" {
		conditions = append(conditions, "folder = ?")
		args = append(args, q.Folder)
	}
	if q.Unread {
		conditions = append(conditions, "is_read = 0")
	}

	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `SELECT ` + messageColumns + ` FROM email_messages WHERE ` +
		strings.Join(conditions, " AND ") +
		fmt.Sprintf(" ORDER BY received_at DESC, id LIMIT %d", limit)
	if q.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", q.Offset)
	}

	messages := []model.CanonicalEmailMessage{}
	if err := s.db.SelectContext(ctx, &messages, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return messages, nil
}

// UnreadCount returns the number of unread messages of a user.
func (s *Store) UnreadCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.q(`SELECT COUNT(*) FROM email_messages WHERE user_id = ? AND is_read = 0`), userID)
	if err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return n, nil
}

// SyncStatus aggregates message counts and the latest sync time of a user.
func (s *Store) SyncStatus(ctx context.Context, userID string) (*SyncStatus, error) {
	status := &SyncStatus{Folders: map[string]int{}}

	var folders []struct {
		Folder string `db:"folder"`
		Total  int    `db:"total"`
		Unread int    `db:"unread"`
	}
	err := s.db.SelectContext(ctx, &folders, s.q(`
		SELECT folder, COUNT(*) AS total, SUM(CASE WHEN is_read = 0 THEN 1 ELSE 0 END) AS unread
		FROM email_messages WHERE user_id = ? GROUP BY folder`), userID)
	if err != nil {
		return nil, fmt.Errorf("counting messages by folder: %w", err)
	}
	for _, f := range folders {
		status.Folders[f.Folder] = f.Total
		status.TotalMessages += f.Total
		status.UnreadMessages += f.Unread
	}

	accounts, err := s.ListAccounts(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	status.Accounts = len(accounts)
	for _, acc := range accounts {
		if acc.LastSyncedAt == nil {
			continue
		}
		if status.LastSyncedAt == nil || acc.LastSyncedAt.After(*status.LastSyncedAt) {
			t := *acc.LastSyncedAt
			status.LastSyncedAt = &t
		}
	}

	return status, nil
}
