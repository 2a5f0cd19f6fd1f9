package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/mailsync/internal/model"
)

// SaveState persists a newly issued OAuth state.
func (s *Store) SaveState(ctx context.Context, st *model.OAuthState) error {
	if st.ID == "" {
		st.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO oauth_states (id, state, provider, user_id, created_at, expires_at, consumed_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)`),
		st.ID, st.State, string(st.Provider), st.UserID, st.CreatedAt.UTC(), st.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("saving oauth state: %w", err)
	}
	return nil
}

// GetState returns the state row for value, or ErrNotFound.
func (s *Store) GetState(ctx context.Context, value string) (*model.OAuthState, error) {
	var st model.OAuthState
	err := s.db.GetContext(ctx, &st, s.q(`
		SELECT id, state, provider, user_id, created_at, expires_at, consumed_at
		FROM oauth_states WHERE state = ?`), value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting oauth state: %w", err)
	}
	st.ConsumedAt = utcPtr(st.ConsumedAt)
	return &st, nil
}

// ConsumeState marks an unconsumed state as consumed at the given time.
// It reports false when another caller consumed it first.
func (s *Store) ConsumeState(ctx context.Context, value string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE oauth_states SET consumed_at = ?
		WHERE state = ? AND consumed_at IS NULL`), at.UTC(), value)
	if err != nil {
		return false, fmt.Errorf("consuming oauth state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows: %w", err)
	}
	return n == 1, nil
}

// PurgeStates deletes states that expired before cutoff, consumed or not.
func (s *Store) PurgeStates(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM oauth_states WHERE expires_at < ?`), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purging oauth states: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return int(n), nil
}
