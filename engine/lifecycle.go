package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadpilot/models"
	"leadpilot/store"

	"github.com/sirupsen/logrus"
)

// Lifecycle validates and applies sequence and enrollment state transitions
// requested by the application layer. The scheduler never mutates sequence
// status; everything configuration-shaped goes through here.
type Lifecycle struct {
	store    store.Store
	notifier LeadStatusNotifier
	log      *logrus.Logger
	now      func() time.Time
}

func NewLifecycle(s store.Store, notifier LeadStatusNotifier, log *logrus.Logger) *Lifecycle {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Lifecycle{
		store:    s,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// Activate moves a sequence to active. A sequence with no steps or an
// archived sequence cannot be activated.
func (l *Lifecycle) Activate(ctx context.Context, sequenceID uint) error {
	seq, err := l.getSequence(ctx, sequenceID)
	if err != nil {
		return err
	}
	if seq.Status == models.SequenceStatusArchived {
		return fmt.Errorf("%w: sequence %d is archived", ErrInvalidState, sequenceID)
	}
	steps, err := l.store.ListSteps(ctx, sequenceID)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return fmt.Errorf("%w: sequence %d has no steps", ErrInvalidState, sequenceID)
	}
	if err := l.store.UpdateSequenceStatus(ctx, sequenceID, models.SequenceStatusActive); err != nil {
		return err
	}
	l.log.WithField("sequence_id", sequenceID).Info("sequence activated")
	return nil
}

// Pause freezes scheduling for a sequence. Existing enrollments keep their
// next_send_at values untouched; the scheduler simply stops selecting them.
func (l *Lifecycle) Pause(ctx context.Context, sequenceID uint) error {
	seq, err := l.getSequence(ctx, sequenceID)
	if err != nil {
		return err
	}
	if seq.Status != models.SequenceStatusActive {
		return fmt.Errorf("%w: cannot pause sequence %d from status %q", ErrInvalidState, sequenceID, seq.Status)
	}
	if err := l.store.UpdateSequenceStatus(ctx, sequenceID, models.SequenceStatusPaused); err != nil {
		return err
	}
	l.log.WithField("sequence_id", sequenceID).Info("sequence paused")
	return nil
}

// Resume returns a paused sequence to active. Enrollments whose due time
// passed while paused fire on the next tick, exactly once.
func (l *Lifecycle) Resume(ctx context.Context, sequenceID uint) error {
	seq, err := l.getSequence(ctx, sequenceID)
	if err != nil {
		return err
	}
	if seq.Status != models.SequenceStatusPaused {
		return fmt.Errorf("%w: cannot resume sequence %d from status %q", ErrInvalidState, sequenceID, seq.Status)
	}
	if err := l.store.UpdateSequenceStatus(ctx, sequenceID, models.SequenceStatusActive); err != nil {
		return err
	}
	l.log.WithField("sequence_id", sequenceID).Info("sequence resumed")
	return nil
}

// Archive terminally retires a sequence from any non-archived status and
// exits all of its active enrollments.
func (l *Lifecycle) Archive(ctx context.Context, sequenceID uint) error {
	seq, err := l.getSequence(ctx, sequenceID)
	if err != nil {
		return err
	}
	if seq.Status == models.SequenceStatusArchived {
		return fmt.Errorf("%w: sequence %d is already archived", ErrInvalidState, sequenceID)
	}
	if err := l.store.UpdateSequenceStatus(ctx, sequenceID, models.SequenceStatusArchived); err != nil {
		return err
	}
	active, err := l.store.ActiveEnrollmentsBySequence(ctx, sequenceID)
	if err != nil {
		return err
	}
	for i := range active {
		if err := l.exit(ctx, &active[i], models.ExitReasonSequenceArchived); err != nil {
			return err
		}
	}
	l.log.WithFields(logrus.Fields{
		"sequence_id": sequenceID,
		"exited":      len(active),
	}).Info("sequence archived")
	return nil
}

// Enroll adds a lead to a sequence at step 0. The first send is due at
// enrollment time plus step 0's delay.
func (l *Lifecycle) Enroll(ctx context.Context, sequenceID, leadID uint) (*models.Enrollment, error) {
	seq, err := l.getSequence(ctx, sequenceID)
	if err != nil {
		return nil, err
	}
	if seq.Status == models.SequenceStatusArchived {
		return nil, fmt.Errorf("%w: sequence %d is archived", ErrInvalidState, sequenceID)
	}
	steps, err := l.store.ListSteps(ctx, sequenceID)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: sequence %d has no steps", ErrInvalidState, sequenceID)
	}
	lead, err := l.store.GetLead(ctx, leadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: lead %d", ErrNotFound, leadID)
		}
		return nil, err
	}
	if !lead.Contactable() {
		return nil, fmt.Errorf("%w: lead %d is suppressed", ErrInvalidState, leadID)
	}
	if _, err := l.store.ActiveEnrollment(ctx, sequenceID, leadID); err == nil {
		return nil, fmt.Errorf("%w: lead %d already has an active enrollment in sequence %d", ErrConflict, leadID, sequenceID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := l.now()
	next := now.Add(steps[0].Delay())
	e := &models.Enrollment{
		SequenceID:       sequenceID,
		LeadID:           leadID,
		Status:           models.EnrollmentStatusActive,
		CurrentStepIndex: 0,
		NextSendAt:       &next,
		EnrolledAt:       now,
	}
	if err := l.store.CreateEnrollment(ctx, e); err != nil {
		return nil, err
	}
	l.log.WithFields(logrus.Fields{
		"sequence_id":  sequenceID,
		"lead_id":      leadID,
		"next_send_at": next,
	}).Info("lead enrolled")
	return e, nil
}

// Unenroll exits an enrollment. It is idempotent: unenrolling an already
// terminal enrollment succeeds without effect.
func (l *Lifecycle) Unenroll(ctx context.Context, enrollmentID uint, reason string) error {
	e, err := l.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: enrollment %d", ErrNotFound, enrollmentID)
		}
		return err
	}
	if e.IsTerminal() {
		return nil
	}
	if reason == "" {
		reason = models.ExitReasonManual
	}
	return l.exit(ctx, e, reason)
}

// AddStep inserts a step. StepOrder outside 0..N is treated as append; an
// in-range value shifts later siblings up so orders stay dense. Active
// enrollments at or past the insertion point shift with the renumbering so
// they keep pointing at the same logical step and never re-receive one
// already sent.
func (l *Lifecycle) AddStep(ctx context.Context, sequenceID uint, step *models.SequenceStep) error {
	seq, err := l.getSequence(ctx, sequenceID)
	if err != nil {
		return err
	}
	if seq.Status == models.SequenceStatusArchived {
		return fmt.Errorf("%w: sequence %d is archived", ErrInvalidState, sequenceID)
	}
	if err := validateStep(step); err != nil {
		return err
	}
	steps, err := l.store.ListSteps(ctx, sequenceID)
	if err != nil {
		return err
	}
	pos := step.StepOrder
	if pos < 0 || pos > len(steps) {
		pos = len(steps)
	}
	var shifted []models.SequenceStep
	for i := range steps {
		if steps[i].StepOrder >= pos {
			steps[i].StepOrder++
			shifted = append(shifted, steps[i])
		}
	}
	if len(shifted) > 0 {
		if err := l.store.SaveSteps(ctx, shifted); err != nil {
			return err
		}
	}
	step.SequenceID = sequenceID
	step.StepOrder = pos
	if err := l.store.CreateStep(ctx, step); err != nil {
		return err
	}

	active, err := l.store.ActiveEnrollmentsBySequence(ctx, sequenceID)
	if err != nil {
		return err
	}
	for i := range active {
		if active[i].CurrentStepIndex >= pos {
			active[i].CurrentStepIndex++
			if err := l.store.SaveEnrollment(ctx, &active[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// RemoveStep deletes a step and renumbers the survivors to a dense 0..N-1.
// Active enrollments positioned past the removed slot shift down with the
// renumbering so every pending step is still delivered; an enrollment whose
// index no longer exists afterwards is completed.
func (l *Lifecycle) RemoveStep(ctx context.Context, sequenceID, stepID uint) error {
	steps, err := l.store.ListSteps(ctx, sequenceID)
	if err != nil {
		return err
	}
	removedOrder := -1
	for i := range steps {
		if steps[i].ID == stepID {
			removedOrder = steps[i].StepOrder
			break
		}
	}
	if removedOrder == -1 {
		return fmt.Errorf("%w: step %d in sequence %d", ErrNotFound, stepID, sequenceID)
	}
	if err := l.store.DeleteStep(ctx, stepID); err != nil {
		return err
	}
	var shifted []models.SequenceStep
	for i := range steps {
		if steps[i].ID != stepID && steps[i].StepOrder > removedOrder {
			steps[i].StepOrder--
			shifted = append(shifted, steps[i])
		}
	}
	if len(shifted) > 0 {
		if err := l.store.SaveSteps(ctx, shifted); err != nil {
			return err
		}
	}
	remaining := len(steps) - 1

	active, err := l.store.ActiveEnrollmentsBySequence(ctx, sequenceID)
	if err != nil {
		return err
	}
	for i := range active {
		e := &active[i]
		changed := false
		if e.CurrentStepIndex > removedOrder {
			e.CurrentStepIndex--
			changed = true
		}
		if e.CurrentStepIndex >= remaining {
			if err := l.complete(ctx, e); err != nil {
				return err
			}
			continue
		}
		if changed {
			if err := l.store.SaveEnrollment(ctx, e); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReorderSteps applies a permutation given as the full list of step IDs in
// their new order.
func (l *Lifecycle) ReorderSteps(ctx context.Context, sequenceID uint, orderedIDs []uint) error {
	steps, err := l.store.ListSteps(ctx, sequenceID)
	if err != nil {
		return err
	}
	if len(orderedIDs) != len(steps) {
		return fmt.Errorf("%w: expected %d step ids, got %d", ErrInvalidState, len(steps), len(orderedIDs))
	}
	byID := make(map[uint]*models.SequenceStep, len(steps))
	for i := range steps {
		byID[steps[i].ID] = &steps[i]
	}
	seen := make(map[uint]bool, len(orderedIDs))
	for pos, id := range orderedIDs {
		step, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: step %d in sequence %d", ErrNotFound, id, sequenceID)
		}
		if seen[id] {
			return fmt.Errorf("%w: step %d listed twice", ErrInvalidState, id)
		}
		seen[id] = true
		step.StepOrder = pos
	}
	return l.store.SaveSteps(ctx, steps)
}

func (l *Lifecycle) getSequence(ctx context.Context, id uint) (*models.Sequence, error) {
	seq, err := l.store.GetSequence(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: sequence %d", ErrNotFound, id)
		}
		return nil, err
	}
	return seq, nil
}

func (l *Lifecycle) exit(ctx context.Context, e *models.Enrollment, reason string) error {
	now := l.now()
	e.Status = models.EnrollmentStatusExited
	e.ExitReason = reason
	e.ExitedAt = &now
	e.NextSendAt = nil
	if err := l.store.SaveEnrollment(ctx, e); err != nil {
		return err
	}
	l.notifier.EnrollmentFinished(ctx, e)
	return nil
}

func (l *Lifecycle) complete(ctx context.Context, e *models.Enrollment) error {
	now := l.now()
	e.Status = models.EnrollmentStatusCompleted
	e.ExitedAt = &now
	e.NextSendAt = nil
	if err := l.store.SaveEnrollment(ctx, e); err != nil {
		return err
	}
	l.notifier.EnrollmentFinished(ctx, e)
	return nil
}

func validateStep(step *models.SequenceStep) error {
	if step.DelayDays < 0 || step.DelayHours < 0 || step.DelayMinutes < 0 {
		return fmt.Errorf("%w: step delay must be non-negative", ErrInvalidState)
	}
	hasInline := step.Subject != "" || step.Body != ""
	if step.TemplateID != nil && hasInline {
		return fmt.Errorf("%w: step cannot set both a template and inline content", ErrInvalidState)
	}
	if step.TemplateID == nil && !hasInline {
		return fmt.Errorf("%w: step needs a template or inline content", ErrInvalidState)
	}
	return nil
}
