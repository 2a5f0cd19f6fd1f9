package model

import "time"

// DefaultStateTTL is how long an issued OAuth state stays usable.
const DefaultStateTTL = 10 * time.Minute

// OAuthState binds one authorization attempt to a user and a provider.
type OAuthState struct {
	ID         string     `db:"id"`
	State      string     `db:"state"`
	Provider   Provider   `db:"provider"`
	UserID     string     `db:"user_id"`
	CreatedAt  time.Time  `db:"created_at"`
	ExpiresAt  time.Time  `db:"expires_at"`
	ConsumedAt *time.Time `db:"consumed_at"`
}

// Expired reports whether the state's TTL has elapsed at now.
func (s *OAuthState) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Consumed reports whether the state was already validated once.
func (s *OAuthState) Consumed() bool {
	return s.ConsumedAt != nil
}

// Usable is true only for an unexpired state that was never consumed.
func (s *OAuthState) Usable(now time.Time) bool {
	return !s.Expired(now) && !s.Consumed()
}
