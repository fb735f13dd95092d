package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadpilot/models"
	"leadpilot/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Ingest consumes asynchronous engagement signals (opens, clicks, replies,
// unsubscribes) reported by tracking endpoints, webhooks and the inbox
// watcher, and applies them to counters and enrollment state. Every record
// method is idempotent per event id: replaying the same webhook never double
// counts.
type Ingest struct {
	store    store.Store
	notifier LeadStatusNotifier
	log      *logrus.Logger
	now      func() time.Time
}

func NewIngest(s store.Store, notifier LeadStatusNotifier, log *logrus.Logger) *Ingest {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Ingest{
		store:    s,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// RecordOpen counts an email open for the given enrollment and step.
func (in *Ingest) RecordOpen(ctx context.Context, enrollmentID, stepID uint, eventID string) error {
	return in.recordEngagement(ctx, models.EventTypeOpened, "opened_count", "total_opened", enrollmentID, stepID, eventID)
}

// RecordClick counts a link click for the given enrollment and step.
func (in *Ingest) RecordClick(ctx context.Context, enrollmentID, stepID uint, eventID string) error {
	return in.recordEngagement(ctx, models.EventTypeClicked, "clicked_count", "total_clicked", enrollmentID, stepID, eventID)
}

func (in *Ingest) recordEngagement(ctx context.Context, eventType, stepColumn, sequenceColumn string,
	enrollmentID, stepID uint, eventID string) error {
	e, err := in.getEnrollment(ctx, enrollmentID)
	if err != nil {
		return err
	}
	if eventID == "" {
		eventID = uuid.New().String()
	}
	inserted, err := in.store.AppendEvent(ctx, &models.SequenceEvent{
		SequenceID:   e.SequenceID,
		EnrollmentID: e.ID,
		StepID:       stepID,
		LeadID:       e.LeadID,
		EventType:    eventType,
		EventID:      eventID,
		OccurredAt:   in.now(),
	})
	if err != nil {
		return err
	}
	if !inserted {
		// Duplicate webhook delivery; already counted.
		return nil
	}
	// The step may have been deleted since the send; the sequence total still
	// counts the engagement.
	if err := in.store.IncrementStepCounter(ctx, stepID, stepColumn, 1); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return in.store.IncrementSequenceCounter(ctx, e.SequenceID, sequenceColumn, 1)
}

// RecordReply counts a reply and exits the enrollment: once a lead responds
// they leave that sequence's funnel, while their enrollments in other
// sequences continue untouched. Callers that matched the reply to a sent
// event pass its step id; with stepID zero the reply is attributed to the
// last step the lead received, which for an active enrollment is the one
// behind the cursor (the cursor already sits on the next unsent step).
func (in *Ingest) RecordReply(ctx context.Context, enrollmentID, stepID uint, eventID string) error {
	e, err := in.getEnrollment(ctx, enrollmentID)
	if err != nil {
		return err
	}
	if stepID == 0 {
		steps, err := in.store.ListSteps(ctx, e.SequenceID)
		if err != nil {
			return err
		}
		if len(steps) > 0 {
			idx := e.CurrentStepIndex
			if e.Status == models.EnrollmentStatusActive && idx > 0 {
				idx--
			}
			if idx >= len(steps) {
				idx = len(steps) - 1
			}
			stepID = steps[idx].ID
		}
	}
	if eventID == "" {
		eventID = uuid.New().String()
	}
	inserted, err := in.store.AppendEvent(ctx, &models.SequenceEvent{
		SequenceID:   e.SequenceID,
		EnrollmentID: e.ID,
		StepID:       stepID,
		LeadID:       e.LeadID,
		EventType:    models.EventTypeReplied,
		EventID:      eventID,
		OccurredAt:   in.now(),
	})
	if err != nil {
		return err
	}
	if inserted {
		if stepID != 0 {
			if err := in.store.IncrementStepCounter(ctx, stepID, "replied_count", 1); err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}
		if err := in.store.IncrementSequenceCounter(ctx, e.SequenceID, "total_replied", 1); err != nil {
			return err
		}
	}
	if e.Status == models.EnrollmentStatusActive {
		if err := in.exit(ctx, e, models.ExitReasonReplied); err != nil {
			return err
		}
		in.log.WithFields(logrus.Fields{
			"enrollment_id": e.ID,
			"sequence_id":   e.SequenceID,
		}).Info("lead replied, enrollment exited")
	}
	return nil
}

// RecordUnsubscribe exits every active enrollment the lead has, across all
// sequences, and suppresses the lead from future enrollment.
func (in *Ingest) RecordUnsubscribe(ctx context.Context, leadID uint, eventID string) error {
	enrollments, err := in.store.ActiveEnrollmentsByLead(ctx, leadID)
	if err != nil {
		return err
	}
	if eventID == "" {
		eventID = uuid.New().String()
	}
	for i := range enrollments {
		e := &enrollments[i]
		// One webhook fans out to several enrollments; scope the dedup key
		// per enrollment so each exit is recorded once.
		if _, err := in.store.AppendEvent(ctx, &models.SequenceEvent{
			SequenceID:   e.SequenceID,
			EnrollmentID: e.ID,
			LeadID:       leadID,
			EventType:    models.EventTypeUnsubscribed,
			EventID:      fmt.Sprintf("%s:enrollment:%d", eventID, e.ID),
			OccurredAt:   in.now(),
		}); err != nil {
			return err
		}
		if err := in.exit(ctx, e, models.ExitReasonUnsubscribed); err != nil {
			return err
		}
	}
	if err := in.store.MarkLeadUnsubscribed(ctx, leadID); err != nil {
		return err
	}
	in.log.WithFields(logrus.Fields{
		"lead_id": leadID,
		"exited":  len(enrollments),
	}).Info("lead unsubscribed")
	return nil
}

func (in *Ingest) getEnrollment(ctx context.Context, id uint) (*models.Enrollment, error) {
	e, err := in.store.GetEnrollment(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: enrollment %d", ErrNotFound, id)
		}
		return nil, err
	}
	return e, nil
}

func (in *Ingest) exit(ctx context.Context, e *models.Enrollment, reason string) error {
	now := in.now()
	e.Status = models.EnrollmentStatusExited
	e.ExitReason = reason
	e.ExitedAt = &now
	e.NextSendAt = nil
	if err := in.store.SaveEnrollment(ctx, e); err != nil {
		return err
	}
	in.notifier.EnrollmentFinished(ctx, e)
	return nil
}
