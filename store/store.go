package store

import (
	"context"
	"errors"
	"time"

	"leadpilot/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// SequenceStore persists sequence and step configuration plus their rollup
// counters.
type SequenceStore interface {
	CreateSequence(ctx context.Context, seq *models.Sequence) error
	GetSequence(ctx context.Context, id uint) (*models.Sequence, error)
	ListSequences(ctx context.Context, userID uint) ([]models.Sequence, error)
	UpdateSequenceStatus(ctx context.Context, id uint, status string) error
	IncrementSequenceCounter(ctx context.Context, id uint, column string, delta int) error
	SetSequenceCounters(ctx context.Context, id uint, sent, opened, clicked, replied int) error

	CreateStep(ctx context.Context, step *models.SequenceStep) error
	GetStep(ctx context.Context, id uint) (*models.SequenceStep, error)
	// ListSteps returns the sequence's steps ordered by StepOrder.
	ListSteps(ctx context.Context, sequenceID uint) ([]models.SequenceStep, error)
	SaveSteps(ctx context.Context, steps []models.SequenceStep) error
	DeleteStep(ctx context.Context, id uint) error
	IncrementStepCounter(ctx context.Context, id uint, column string, delta int) error
	SetStepCounters(ctx context.Context, id uint, sent, opened, clicked, replied int) error
}

// EnrollmentStore persists lead progress through sequences.
type EnrollmentStore interface {
	CreateEnrollment(ctx context.Context, e *models.Enrollment) error
	GetEnrollment(ctx context.Context, id uint) (*models.Enrollment, error)
	SaveEnrollment(ctx context.Context, e *models.Enrollment) error
	// ActiveEnrollment returns the single active enrollment for the pair, or
	// ErrNotFound.
	ActiveEnrollment(ctx context.Context, sequenceID, leadID uint) (*models.Enrollment, error)
	ActiveEnrollmentsBySequence(ctx context.Context, sequenceID uint) ([]models.Enrollment, error)
	ActiveEnrollmentsByLead(ctx context.Context, leadID uint) ([]models.Enrollment, error)
	ListEnrollments(ctx context.Context, sequenceID uint) ([]models.Enrollment, error)
	// DueEnrollments returns active enrollments with next_send_at <= now
	// whose sequence is active, ordered by next_send_at. Enrollments under a
	// paused sequence are excluded without being mutated.
	DueEnrollments(ctx context.Context, now time.Time, limit int) ([]models.Enrollment, error)
}

// EventStore persists the append-only outcome log.
type EventStore interface {
	// AppendEvent inserts the event unless its (event_type, event_id) pair
	// already exists. It reports whether a row was inserted.
	AppendEvent(ctx context.Context, ev *models.SequenceEvent) (bool, error)
	EventsBySequence(ctx context.Context, sequenceID uint) ([]models.SequenceEvent, error)
	// SentEventByMessageID resolves a gateway message id back to its sent
	// event, for tracking hits and inbound reply matching.
	SentEventByMessageID(ctx context.Context, messageID string) (*models.SequenceEvent, error)
}

// LeadStore exposes the slice of the CRM contact model the engine needs.
type LeadStore interface {
	CreateLead(ctx context.Context, lead *models.Lead) error
	GetLead(ctx context.Context, id uint) (*models.Lead, error)
	MarkLeadBounced(ctx context.Context, id uint) error
	MarkLeadUnsubscribed(ctx context.Context, id uint) error
}

// TemplateStore resolves step template references.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, tpl *models.Template) error
	GetTemplate(ctx context.Context, id uint) (*models.Template, error)
}

// Store is the full persistence surface of the engine.
type Store interface {
	SequenceStore
	EnrollmentStore
	EventStore
	LeadStore
	TemplateStore
}
