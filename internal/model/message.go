package model

import (
	"encoding/json"
	"time"
)

// BodyPart is one decoded content part of a provider message.
type BodyPart struct {
	// MIMEType is the lower-cased media type, e.g. "text/plain".
	MIMEType string
	// Charset is the declared charset; empty means us-ascii/utf-8.
	Charset string
	Data    []byte
}

// ProviderMessage is a provider-native message summary returned by an adapter.
type ProviderMessage struct {
	ID          string
	ThreadID    string
	SecondaryID string
	From        string
	To          string
	Subject     string
	Snippet     string
	Folder      string
	Read        bool
	ReceivedAt  time.Time

	// Parts holds already transfer-decoded content parts.
	Parts []BodyPart
	// MIME holds the full RFC 5322 source when the provider returns one.
	MIME []byte
	// Raw is the provider payload kept for audit.
	Raw json.RawMessage
}

// CanonicalEmailMessage is the provider-agnostic stored form of a message.
// (AccountID, ProviderMessageID) is unique.
type CanonicalEmailMessage struct {
	ID                string    `db:"id" json:"id"`
	AccountID         string    `db:"account_id" json:"account_id"`
	UserID            string    `db:"user_id" json:"user_id"`
	ProviderMessageID string    `db:"provider_message_id" json:"provider_message_id"`
	ThreadID          string    `db:"thread_id" json:"thread_id,omitempty"`
	Owner             string    `db:"owner" json:"owner"`
	Sender            string    `db:"sender" json:"sender"`
	Recipients        string    `db:"recipients" json:"recipients"`
	Subject           string    `db:"subject" json:"subject"`
	Body              string    `db:"body" json:"body"`
	Summary           string    `db:"summary" json:"summary,omitempty"`
	Read              bool      `db:"is_read" json:"is_read"`
	Folder            string    `db:"folder" json:"folder"`
	ReceivedAt        time.Time `db:"received_at" json:"received_at"`
	SecondaryID       string    `db:"secondary_id" json:"secondary_id,omitempty"`
	Raw               string    `db:"raw_data" json:"-"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}
