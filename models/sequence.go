package models

import (
	"time"

	"gorm.io/gorm"
)

// Sequence statuses.
const (
	SequenceStatusDraft    = "draft"
	SequenceStatusActive   = "active"
	SequenceStatusPaused   = "paused"
	SequenceStatusArchived = "archived"
)

// Sequence represents an automated email drip sequence
type Sequence struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Status      string `gorm:"default:'draft';index" json:"status"` // draft, active, paused, archived

	// Statistics (denormalized for performance, rebuilt from SequenceEvent)
	TotalSent    int `gorm:"default:0" json:"total_sent"`
	TotalOpened  int `gorm:"default:0" json:"total_opened"`
	TotalClicked int `gorm:"default:0" json:"total_clicked"`
	TotalReplied int `gorm:"default:0" json:"total_replied"`

	// Relations
	Steps       []SequenceStep `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
	Enrollments []Enrollment   `gorm:"foreignKey:SequenceID" json:"enrollments,omitempty"`
}

// SequenceStep represents one email within a sequence. StepOrder values
// within a sequence are dense 0..N-1; removing or reordering steps renumbers
// siblings.
type SequenceStep struct {
	gorm.Model
	SequenceID uint   `gorm:"not null;index:idx_sequence_step_order" json:"sequence_id"`
	StepOrder  int    `gorm:"not null;index:idx_sequence_step_order" json:"step_order"` // zero-based
	Name       string `json:"name"`

	// Wait time relative to the previous step's completion (or to
	// enrollment, for step 0). All parts are non-negative; 0 means the step
	// is eligible immediately.
	DelayDays    int `gorm:"default:0" json:"delay_days"`
	DelayHours   int `gorm:"default:0" json:"delay_hours"`
	DelayMinutes int `gorm:"default:0" json:"delay_minutes"`

	// Content: exactly one of TemplateID or inline Subject+Body is set.
	TemplateID *uint  `gorm:"index" json:"template_id,omitempty"`
	Subject    string `json:"subject"`
	Body       string `gorm:"type:text" json:"body"`

	// Tracking
	SentCount    int `gorm:"default:0" json:"sent_count"`
	OpenedCount  int `gorm:"default:0" json:"opened_count"`
	ClickedCount int `gorm:"default:0" json:"clicked_count"`
	RepliedCount int `gorm:"default:0" json:"replied_count"`
}

// Delay returns the step's wait time as a single duration.
func (s *SequenceStep) Delay() time.Duration {
	return time.Duration(s.DelayDays)*24*time.Hour +
		time.Duration(s.DelayHours)*time.Hour +
		time.Duration(s.DelayMinutes)*time.Minute
}

// HasInlineContent reports whether the step carries its own subject/body
// instead of referencing a template.
func (s *SequenceStep) HasInlineContent() bool {
	return s.TemplateID == nil
}
