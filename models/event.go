package models

import (
	"time"

	"gorm.io/gorm"
)

// Event types recorded per enrollment/step outcome.
const (
	EventTypeSent         = "sent"
	EventTypeOpened       = "opened"
	EventTypeClicked      = "clicked"
	EventTypeReplied      = "replied"
	EventTypeBounced      = "bounced"
	EventTypeUnsubscribed = "unsubscribed"
	EventTypeFailed       = "failed"
)

// SequenceEvent is the append-only log of per-enrollment, per-step outcomes.
// The counters on Sequence and SequenceStep are rollups of this log, never
// the other way around. The (event_type, event_id) pair is unique so replayed
// webhooks and crash-retried sends cannot double-count.
type SequenceEvent struct {
	gorm.Model
	SequenceID   uint `gorm:"not null;index" json:"sequence_id"`
	EnrollmentID uint `gorm:"not null;index" json:"enrollment_id"`
	StepID       uint `gorm:"index" json:"step_id"`
	LeadID       uint `gorm:"index" json:"lead_id"`

	EventType string `gorm:"not null;uniqueIndex:idx_event_dedup" json:"event_type"`
	EventID   string `gorm:"not null;uniqueIndex:idx_event_dedup" json:"event_id"`

	// MessageID is the gateway's message identifier for sent events, used to
	// match tracking hits and inbound replies back to an enrollment.
	MessageID string `gorm:"index" json:"message_id"`

	OccurredAt time.Time `gorm:"not null;index" json:"occurred_at"`
}
