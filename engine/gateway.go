package engine

import (
	"context"

	"leadpilot/models"
)

// Outcome of a single delivery attempt.
type Outcome int

const (
	// OutcomeSent means the gateway accepted the message.
	OutcomeSent Outcome = iota
	// OutcomeBounced is a permanent failure; the enrollment is exited and
	// the step is never retried.
	OutcomeBounced
	// OutcomeFailed is a transient failure (timeout, temporary gateway
	// error); the step stays due and is retried with bounded attempts.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeBounced:
		return "bounced"
	default:
		return "failed"
	}
}

// Message is rendered email content ready for delivery.
type Message struct {
	Subject string
	Body    string
}

// ContentResolver turns a step into renderable content for a lead. It must be
// side-effect-free and idempotent. A missing template is reported as
// ErrNotFound and treated by the scheduler as transient, not as a bounce.
type ContentResolver interface {
	Resolve(ctx context.Context, step *models.SequenceStep, lead *models.Lead) (Message, error)
}

// DeliveryGateway accepts a rendered message for a lead. The idempotency key
// (enrollment:<id>:step:<index>) must be honored by the gateway so a retried
// call after a crash between send and store write does not duplicate the
// email. It returns the gateway's message id for sent mail.
type DeliveryGateway interface {
	Send(ctx context.Context, lead *models.Lead, msg Message, idempotencyKey string) (Outcome, string, error)
}

// LeadStatusNotifier informs the surrounding CRM when an enrollment becomes
// terminal, so list views can reflect completion without polling the store.
type LeadStatusNotifier interface {
	EnrollmentFinished(ctx context.Context, e *models.Enrollment)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) EnrollmentFinished(context.Context, *models.Enrollment) {}
