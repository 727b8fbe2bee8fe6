package domain

import "time"

// Newsletter is one subscription entry. Name is unique per contact.
// An entry with Subscribed=false is history, not garbage: unsubscribing
// flips the flag and keeps the row.
type Newsletter struct {
	Name            string    `json:"name"`
	Subscribed      bool      `json:"subscribed"`
	Format          string    `json:"format"`
	Lang            *string   `json:"lang"`
	Source          *string   `json:"source"`
	UnsubReason     *string   `json:"unsub_reason"`
	CreateTimestamp time.Time `json:"create_timestamp"`
	UpdateTimestamp time.Time `json:"update_timestamp"`
}

