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

const accountColumns = `id, user_id, email, provider, access_token, refresh_token,
	token_expiry, is_active, last_synced_at, created_at, updated_at`

// UpsertAccount inserts an account or, when (user, email, provider) already
// exists, replaces its tokens and reactivates it. The stored row is returned.
func (s *Store) UpsertAccount(ctx context.Context, acc model.EmailAccount) (*model.EmailAccount, error) {
	acc.Email = strings.TrimSpace(acc.Email)
	if acc.UserID == "" || acc.Email == "" {
		return nil, fmt.Errorf("account requires user id and email")
	}
	if acc.ID == "" {
		acc.ID = uuid.New().String()
	}

	access, err := s.cipher.Seal(acc.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypting access token: %w", err)
	}
	refresh, err := s.cipher.Seal(acc.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("encrypting refresh token: %w", err)
	}

	now := s.now()
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO email_accounts (
			id, user_id, email, provider, access_token, refresh_token,
			token_expiry, is_active, last_synced_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 1, NULL, ?, ?)
		ON CONFLICT (user_id, email, provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = COALESCE(NULLIF(excluded.refresh_token, ''), email_accounts.refresh_token),
			token_expiry = excluded.token_expiry,
			is_active = 1,
			updated_at = excluded.updated_at`),
		acc.ID, acc.UserID, acc.Email, string(acc.Provider), access, refresh,
		nullTime(acc.TokenExpiry), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting account: %w", err)
	}

	var row model.EmailAccount
	err = s.db.GetContext(ctx, &row, s.q(`SELECT `+accountColumns+`
		FROM email_accounts WHERE user_id = ? AND email = ? AND provider = ?`),
		acc.UserID, acc.Email, string(acc.Provider))
	if err != nil {
		return nil, fmt.Errorf("reading upserted account: %w", err)
	}
	return s.openAccount(&row)
}

// GetAccount returns the account with the given id regardless of its state.
func (s *Store) GetAccount(ctx context.Context, id string) (*model.EmailAccount, error) {
	var row model.EmailAccount
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+accountColumns+` FROM email_accounts WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, model.ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting account %s: %w", id, err)
	}
	return s.openAccount(&row)
}

// ListAccounts returns a user's accounts ordered by creation time.
func (s *Store) ListAccounts(ctx context.Context, userID string, activeOnly bool) ([]model.EmailAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM email_accounts WHERE user_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY created_at, email`

	var rows []model.EmailAccount
	if err := s.db.SelectContext(ctx, &rows, s.q(query), userID); err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}

	accounts := make([]model.EmailAccount, 0, len(rows))
	for i := range rows {
		acc, err := s.openAccount(&rows[i])
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acc)
	}
	return accounts, nil
}

// ListActiveUserIDs returns every user owning at least one active account.
func (s *Store) ListActiveUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT DISTINCT user_id FROM email_accounts WHERE is_active = 1 ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return ids, nil
}

// UpdateTokens replaces both tokens and the expiry of an account in one statement.
func (s *Store) UpdateTokens(ctx context.Context, id string, tokens model.TokenPair) error {
	access, err := s.cipher.Seal(tokens.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypting access token: %w", err)
	}
	refresh, err := s.cipher.Seal(tokens.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypting refresh token: %w", err)
	}

	var expiry sql.NullTime
	if tokens.HasExpiry() {
		expiry = nullTime(&tokens.Expiry)
	}

	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE email_accounts
		SET access_token = ?, refresh_token = ?, token_expiry = ?, updated_at = ?
		WHERE id = ?`),
		access, refresh, expiry, s.now(), id)
	if err != nil {
		return fmt.Errorf("updating tokens for account %s: %w", id, err)
	}
	return requireRow(res, id)
}

// SetActive activates or deactivates an account.
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE email_accounts SET is_active = ?, updated_at = ? WHERE id = ?`),
		boolToInt(active), s.now(), id)
	if err != nil {
		return fmt.Errorf("updating account %s: %w", id, err)
	}
	return requireRow(res, id)
}

// MarkSynced records the time of the last successful sync.
func (s *Store) MarkSynced(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE email_accounts SET last_synced_at = ?, updated_at = ? WHERE id = ?`),
		at.UTC(), s.now(), id)
	if err != nil {
		return fmt.Errorf("marking account %s synced: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *Store) openAccount(acc *model.EmailAccount) (*model.EmailAccount, error) {
	var err error
	if acc.AccessToken, err = s.cipher.Open(acc.AccessToken); err != nil {
		return nil, fmt.Errorf("decrypting access token for account %s: %w", acc.ID, err)
	}
	if acc.RefreshToken, err = s.cipher.Open(acc.RefreshToken); err != nil {
		return nil, fmt.Errorf("decrypting refresh token for account %s: %w", acc.ID, err)
	}
	acc.TokenExpiry = utcPtr(acc.TokenExpiry)
	acc.LastSyncedAt = utcPtr(acc.LastSyncedAt)
	return acc, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("account %s: %w", id, model.ErrAccountNotFound)
	}
	return nil
}
