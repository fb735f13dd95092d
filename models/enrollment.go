package models

import (
	"time"

	"gorm.io/gorm"
)

// Enrollment statuses.
const (
	EnrollmentStatusActive    = "active"
	EnrollmentStatusPaused    = "paused"
	EnrollmentStatusCompleted = "completed"
	EnrollmentStatusExited    = "exited"
)

// Exit reasons recorded when an enrollment leaves a sequence early.
const (
	ExitReasonReplied          = "replied"
	ExitReasonBounced          = "bounced"
	ExitReasonUnsubscribed     = "unsubscribed"
	ExitReasonManual           = "manual"
	ExitReasonSequenceArchived = "sequence_archived"
	ExitReasonDeliveryFailed   = "delivery_failed"
)

// Enrollment tracks a single lead's progress through one sequence. At most
// one active enrollment exists per (sequence_id, lead_id) pair.
type Enrollment struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index:idx_enrollment_pair" json:"sequence_id"`
	LeadID     uint `gorm:"not null;index:idx_enrollment_pair" json:"lead_id"`

	Status string `gorm:"default:'active';index" json:"status"` // active, paused, completed, exited

	// CurrentStepIndex is the step about to be (or just) sent. It never
	// decreases over the enrollment's lifetime.
	CurrentStepIndex int `gorm:"default:0" json:"current_step_index"`

	// NextSendAt is nil exactly when the enrollment is terminal. A paused
	// enrollment keeps its value so resuming never reschedules.
	NextSendAt *time.Time `gorm:"index" json:"next_send_at"`

	// SendAttempts counts transient delivery failures for the current step.
	SendAttempts int `gorm:"default:0" json:"send_attempts"`

	EnrolledAt time.Time  `gorm:"not null" json:"enrolled_at"`
	ExitedAt   *time.Time `json:"exited_at"`
	ExitReason string     `json:"exit_reason"`

	// Relations
	Sequence Sequence `json:"-"`
	Lead     Lead     `json:"-"`
}

// IsTerminal reports whether no further sends will occur for this enrollment.
func (e *Enrollment) IsTerminal() bool {
	return e.Status == EnrollmentStatusCompleted || e.Status == EnrollmentStatusExited
}
