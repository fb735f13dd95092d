package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"leadpilot/models"
	"leadpilot/store"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// SchedulerConfig tunes the due-work loop.
type SchedulerConfig struct {
	// BatchSize caps how many due enrollments one tick picks up.
	BatchSize int
	// Concurrency is the number of workers processing a tick's batch.
	Concurrency int
	// MaxSendAttempts bounds transient retries per step. Exhausting the
	// budget exits the enrollment with reason delivery_failed.
	MaxSendAttempts int
	// RetryBackoff is multiplied by the attempt count to space retries.
	RetryBackoff time.Duration
	// LockTTL protects against a crashed worker holding a lock forever.
	LockTTL time.Duration
	// SendTimeout bounds each delivery gateway call. Exceeding it is a
	// transient failure, not a bounce.
	SendTimeout time.Duration
}

// DefaultSchedulerConfig returns production defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BatchSize:       200,
		Concurrency:     4,
		MaxSendAttempts: 3,
		RetryBackoff:    15 * time.Minute,
		LockTTL:         2 * time.Minute,
		SendTimeout:     30 * time.Second,
	}
}

// Scheduler selects due enrollments, resolves and delivers their current
// step, and advances or terminates them. Within one enrollment, steps are
// strictly ordered; between leads no ordering is guaranteed.
type Scheduler struct {
	store    store.Store
	resolver ContentResolver
	gateway  DeliveryGateway
	notifier LeadStatusNotifier
	locker   Locker
	cfg      SchedulerConfig
	log      *logrus.Logger
	now      func() time.Time
}

func NewScheduler(s store.Store, resolver ContentResolver, gateway DeliveryGateway,
	notifier LeadStatusNotifier, locker Locker, cfg SchedulerConfig, log *logrus.Logger) *Scheduler {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSchedulerConfig().BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxSendAttempts <= 0 {
		cfg.MaxSendAttempts = DefaultSchedulerConfig().MaxSendAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultSchedulerConfig().RetryBackoff
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultSchedulerConfig().LockTTL
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSchedulerConfig().SendTimeout
	}
	return &Scheduler{
		store:    s,
		resolver: resolver,
		gateway:  gateway,
		notifier: notifier,
		locker:   locker,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// IdempotencyKey identifies one (enrollment, step index) send attempt. The
// gateway must deduplicate on it; the sent-event log deduplicates on it too,
// so a crash between delivery and the store write cannot double count.
func IdempotencyKey(enrollmentID uint, stepIndex int) string {
	return fmt.Sprintf("enrollment:%d:step:%d", enrollmentID, stepIndex)
}

// Tick runs one scheduling pass and reports how many enrollments were
// processed to a send outcome.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.DueEnrollments(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("selecting due enrollments: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	candidates := make(chan uint, len(due))
	for i := range due {
		candidates <- due[i].ID
	}
	close(candidates)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		processed int
	)
	workers := s.cfg.Concurrency
	if workers > len(due) {
		workers = len(due)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range candidates {
				if ctx.Err() != nil {
					return
				}
				if s.process(ctx, id) {
					mu.Lock()
					processed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	return processed, ctx.Err()
}

// process handles one candidate: lock, re-check, resolve, deliver, apply
// outcome, unlock. Returns true when a send outcome (sent, bounced or
// transient failure) was applied.
func (s *Scheduler) process(ctx context.Context, enrollmentID uint) bool {
	key := fmt.Sprintf("enrollment:%d", enrollmentID)
	ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		s.log.WithError(err).WithField("enrollment_id", enrollmentID).Warn("lock acquisition failed")
		return false
	}
	if !ok {
		// Another worker owns it.
		return false
	}
	defer func() {
		if err := s.locker.Unlock(ctx, key); err != nil {
			s.log.WithError(err).WithField("enrollment_id", enrollmentID).Warn("lock release failed")
		}
	}()

	now := s.now()

	// Re-check eligibility under the lock: the enrollment may have been
	// unenrolled, or the sequence paused, between selection and now.
	e, err := s.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		s.log.WithError(err).WithField("enrollment_id", enrollmentID).Warn("enrollment vanished before send")
		return false
	}
	if e.Status != models.EnrollmentStatusActive || e.NextSendAt == nil || e.NextSendAt.After(now) {
		return false
	}
	seq, err := s.store.GetSequence(ctx, e.SequenceID)
	if err != nil || seq.Status != models.SequenceStatusActive {
		return false
	}
	steps, err := s.store.ListSteps(ctx, e.SequenceID)
	if err != nil {
		s.log.WithError(err).WithField("sequence_id", e.SequenceID).Error("listing steps")
		return false
	}
	if e.CurrentStepIndex >= len(steps) {
		// Steps were removed underneath an in-flight enrollment; nothing
		// left to send.
		if err := s.complete(ctx, e, now); err != nil {
			s.log.WithError(err).WithField("enrollment_id", e.ID).Error("completing clamped enrollment")
		}
		return false
	}
	step := steps[e.CurrentStepIndex]

	lead, err := s.store.GetLead(ctx, e.LeadID)
	if err != nil {
		s.log.WithError(err).WithField("lead_id", e.LeadID).Warn("lead vanished before send")
		return false
	}
	if !lead.Contactable() {
		// Suppression landed between selection and processing.
		reason := models.ExitReasonManual
		switch {
		case lead.IsBounced:
			reason = models.ExitReasonBounced
		case lead.IsUnsubscribed:
			reason = models.ExitReasonUnsubscribed
		}
		if err := s.exit(ctx, e, reason, now); err != nil {
			s.log.WithError(err).WithField("enrollment_id", e.ID).Error("exiting suppressed enrollment")
		}
		return false
	}

	msg, err := s.resolver.Resolve(ctx, &step, lead)
	if err != nil {
		// Resolver failures (deleted template included) are transient.
		s.failTransient(ctx, e, step.ID, now, fmt.Errorf("resolving content: %w", err))
		return true
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	outcome, messageID, sendErr := s.gateway.Send(sendCtx, lead, msg, IdempotencyKey(e.ID, e.CurrentStepIndex))
	cancel()
	if sendErr != nil && outcome == OutcomeSent {
		outcome = OutcomeFailed
	}
	if errors.Is(sendErr, context.DeadlineExceeded) {
		outcome = OutcomeFailed
	}

	switch outcome {
	case OutcomeSent:
		s.applySent(ctx, e, seq, steps, messageID, now)
	case OutcomeBounced:
		s.applyBounced(ctx, e, &step, now)
	default:
		s.failTransient(ctx, e, step.ID, now, sendErr)
	}
	return true
}

func (s *Scheduler) applySent(ctx context.Context, e *models.Enrollment, seq *models.Sequence,
	steps []models.SequenceStep, messageID string, now time.Time) {
	step := steps[e.CurrentStepIndex]

	inserted, err := s.store.AppendEvent(ctx, &models.SequenceEvent{
		SequenceID:   e.SequenceID,
		EnrollmentID: e.ID,
		StepID:       step.ID,
		LeadID:       e.LeadID,
		EventType:    models.EventTypeSent,
		EventID:      IdempotencyKey(e.ID, e.CurrentStepIndex),
		MessageID:    messageID,
		OccurredAt:   now,
	})
	if err != nil {
		s.log.WithError(err).WithField("enrollment_id", e.ID).Error("recording sent event")
		return
	}
	if inserted {
		if err := s.store.IncrementStepCounter(ctx, step.ID, "sent_count", 1); err != nil {
			s.log.WithError(err).Error("incrementing step sent_count")
		}
		if err := s.store.IncrementSequenceCounter(ctx, seq.ID, "total_sent", 1); err != nil {
			s.log.WithError(err).Error("incrementing sequence total_sent")
		}
	}

	e.SendAttempts = 0
	if e.CurrentStepIndex == len(steps)-1 {
		if err := s.complete(ctx, e, now); err != nil {
			s.log.WithError(err).WithField("enrollment_id", e.ID).Error("completing enrollment")
		}
		return
	}
	e.CurrentStepIndex++
	next := now.Add(steps[e.CurrentStepIndex].Delay())
	e.NextSendAt = &next
	if err := s.store.SaveEnrollment(ctx, e); err != nil {
		s.log.WithError(err).WithField("enrollment_id", e.ID).Error("advancing enrollment")
		return
	}
	s.log.WithFields(logrus.Fields{
		"enrollment_id": e.ID,
		"sequence_id":   e.SequenceID,
		"step_order":    step.StepOrder,
		"next_send_at":  next,
	}).Info("step sent")
}

func (s *Scheduler) applyBounced(ctx context.Context, e *models.Enrollment, step *models.SequenceStep, now time.Time) {
	if _, err := s.store.AppendEvent(ctx, &models.SequenceEvent{
		SequenceID:   e.SequenceID,
		EnrollmentID: e.ID,
		StepID:       step.ID,
		LeadID:       e.LeadID,
		EventType:    models.EventTypeBounced,
		EventID:      IdempotencyKey(e.ID, e.CurrentStepIndex),
		OccurredAt:   now,
	}); err != nil {
		s.log.WithError(err).WithField("enrollment_id", e.ID).Error("recording bounce event")
	}
	if err := s.store.MarkLeadBounced(ctx, e.LeadID); err != nil {
		s.log.WithError(err).WithField("lead_id", e.LeadID).Error("marking lead bounced")
	}
	if err := s.exit(ctx, e, models.ExitReasonBounced, now); err != nil {
		s.log.WithError(err).WithField("enrollment_id", e.ID).Error("exiting bounced enrollment")
		return
	}
	s.log.WithFields(logrus.Fields{
		"enrollment_id": e.ID,
		"lead_id":       e.LeadID,
	}).Warn("delivery bounced, enrollment exited")
}

func (s *Scheduler) failTransient(ctx context.Context, e *models.Enrollment, stepID uint, now time.Time, cause error) {
	e.SendAttempts++
	if e.SendAttempts >= s.cfg.MaxSendAttempts {
		if _, err := s.store.AppendEvent(ctx, &models.SequenceEvent{
			SequenceID:   e.SequenceID,
			EnrollmentID: e.ID,
			StepID:       stepID,
			LeadID:       e.LeadID,
			EventType:    models.EventTypeFailed,
			EventID:      IdempotencyKey(e.ID, e.CurrentStepIndex),
			OccurredAt:   now,
		}); err != nil {
			s.log.WithError(err).WithField("enrollment_id", e.ID).Error("recording failure event")
		}
		if cause != nil {
			sentry.CaptureException(cause)
		}
		if err := s.exit(ctx, e, models.ExitReasonDeliveryFailed, now); err != nil {
			s.log.WithError(err).WithField("enrollment_id", e.ID).Error("exiting failed enrollment")
			return
		}
		s.log.WithError(cause).WithFields(logrus.Fields{
			"enrollment_id": e.ID,
			"attempts":      e.SendAttempts,
		}).Error("retry budget exhausted, enrollment exited")
		return
	}

	next := now.Add(s.cfg.RetryBackoff * time.Duration(e.SendAttempts))
	e.NextSendAt = &next
	if err := s.store.SaveEnrollment(ctx, e); err != nil {
		s.log.WithError(err).WithField("enrollment_id", e.ID).Error("rescheduling retry")
		return
	}
	s.log.WithError(cause).WithFields(logrus.Fields{
		"enrollment_id": e.ID,
		"attempt":       e.SendAttempts,
		"retry_at":      next,
	}).Warn("transient delivery failure, will retry")
}

func (s *Scheduler) complete(ctx context.Context, e *models.Enrollment, now time.Time) error {
	e.Status = models.EnrollmentStatusCompleted
	e.ExitedAt = &now
	e.NextSendAt = nil
	if err := s.store.SaveEnrollment(ctx, e); err != nil {
		return err
	}
	s.notifier.EnrollmentFinished(ctx, e)
	s.log.WithFields(logrus.Fields{
		"enrollment_id": e.ID,
		"sequence_id":   e.SequenceID,
	}).Info("enrollment completed")
	return nil
}

func (s *Scheduler) exit(ctx context.Context, e *models.Enrollment, reason string, now time.Time) error {
	e.Status = models.EnrollmentStatusExited
	e.ExitReason = reason
	e.ExitedAt = &now
	e.NextSendAt = nil
	if err := s.store.SaveEnrollment(ctx, e); err != nil {
		return err
	}
	s.notifier.EnrollmentFinished(ctx, e)
	return nil
}
