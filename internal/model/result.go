package model

import (
	"fmt"
	"time"
)

// SyncResult aggregates the outcome of one or more account syncs.
type SyncResult struct {
	Success         bool      `json:"success"`
	MessagesSeen    int       `json:"messages_seen"`
	MessagesSynced  int       `json:"messages_synced"`
	MessagesCreated int       `json:"messages_created"`
	MessagesUpdated int       `json:"messages_updated"`
	MessagesSkipped int       `json:"messages_skipped"`
	Errors          []string  `json:"errors"`
	SyncTime        time.Time `json:"sync_time"`
}

// AddError records a non-fatal error description.
func (r *SyncResult) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Merge adds the counts and errors of other into r.
func (r *SyncResult) Merge(other SyncResult) {
	r.MessagesSeen += other.MessagesSeen
	r.MessagesCreated += other.MessagesCreated
	r.MessagesUpdated += other.MessagesUpdated
	r.MessagesSkipped += other.MessagesSkipped
	r.Errors = append(r.Errors, other.Errors...)
}

// Finalize derives Success and MessagesSynced and stamps the completion time.
func (r *SyncResult) Finalize(now time.Time) SyncResult {
	r.MessagesSynced = r.MessagesCreated + r.MessagesUpdated
	r.Success = len(r.Errors) == 0
	if r.Errors == nil {
		r.Errors = []string{}
	}
	r.SyncTime = now.UTC()
	return *r
}
