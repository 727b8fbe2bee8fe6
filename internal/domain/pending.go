package domain

import (
	"time"

	"github.com/google/uuid"
)

// PendingSyncRecord marks a contact as queued for sync to the marketing
// platform. One row per contact; re-queueing an already-pending contact
// only bumps its update timestamp. Records whose retry count reaches the
// configured ceiling are excluded from polling but kept for inspection.
type PendingSyncRecord struct {
	EmailID         uuid.UUID `json:"email_id"`
	Retry           int       `json:"retry"`
	LastError       *string   `json:"last_error"`
	CreateTimestamp time.Time `json:"create_timestamp"`
	UpdateTimestamp time.Time `json:"update_timestamp"`
}
