package engine

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"leadpilot/models"
	"leadpilot/store"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBase = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func seedSequence(t *testing.T, st *store.MemoryStore, status string, stepDelays ...time.Duration) *models.Sequence {
	t.Helper()
	seq := &models.Sequence{UserID: 1, Name: "Welcome", Status: status}
	require.NoError(t, st.CreateSequence(context.Background(), seq))
	for i, d := range stepDelays {
		step := &models.SequenceStep{
			SequenceID:   seq.ID,
			StepOrder:    i,
			Name:         fmt.Sprintf("Step %d", i),
			Subject:      fmt.Sprintf("Subject %d", i),
			Body:         "<p>Hello {{.FirstName}}</p>",
			DelayMinutes: int(d / time.Minute),
		}
		require.NoError(t, st.CreateStep(context.Background(), step))
	}
	return seq
}

func seedLead(t *testing.T, st *store.MemoryStore) *models.Lead {
	t.Helper()
	lead := &models.Lead{UserID: 1, Email: "ada@example.com", FirstName: "Ada", Company: "Acme"}
	require.NoError(t, st.CreateLead(context.Background(), lead))
	return lead
}

func newTestLifecycle(st *store.MemoryStore, notifier LeadStatusNotifier) *Lifecycle {
	lc := NewLifecycle(st, notifier, testLogger())
	lc.now = func() time.Time { return testBase }
	return lc
}

func TestActivateRequiresSteps(t *testing.T) {
	st := store.NewMemoryStore()
	lc := newTestLifecycle(st, nil)
	seq := seedSequence(t, st, models.SequenceStatusDraft)

	err := lc.Activate(context.Background(), seq.ID)
	require.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, st.CreateStep(context.Background(), &models.SequenceStep{
		SequenceID: seq.ID, StepOrder: 0, Subject: "Hi", Body: "Hello",
	}))
	require.NoError(t, lc.Activate(context.Background(), seq.ID))

	got, err := st.GetSequence(context.Background(), seq.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SequenceStatusActive, got.Status)
}

func TestActivateArchivedSequenceFails(t *testing.T) {
	st := store.NewMemoryStore()
	lc := newTestLifecycle(st, nil)
	seq := seedSequence(t, st, models.SequenceStatusArchived, 0)

	err := lc.Activate(context.Background(), seq.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestPauseResumeValidation(t *testing.T) {
	st := store.NewMemoryStore()
	lc := newTestLifecycle(st, nil)
	seq := seedSequence(t, st, models.SequenceStatusDraft, 0)

	// Only active sequences pause.
	require.ErrorIs(t, lc.Pause(context.Background(), seq.ID), ErrInvalidState)

	require.NoError(t, lc.Activate(context.Background(), seq.ID))
	require.NoError(t, lc.Pause(context.Background(), seq.ID))
	require.ErrorIs(t, lc.Pause(context.Background(), seq.ID), ErrInvalidState)

	require.NoError(t, lc.Resume(context.Background(), seq.ID))
	require.ErrorIs(t, lc.Resume(context.Background(), seq.ID), ErrInvalidState)
}

func TestArchiveExitsActiveEnrollments(t *testing.T) {
	st := store.NewMemoryStore()
	notifier := &recordingNotifier{}
	lc := newTestLifecycle(st, notifier)
	seq := seedSequence(t, st, models.SequenceStatusActive, 0, 24*time.Hour)
	lead := seedLead(t, st)

	e, err := lc.Enroll(context.Background(), seq.ID, lead.ID)
	require.NoError(t, err)

	require.NoError(t, lc.Archive(context.Background(), seq.ID))

	got, err := st.GetSequence(context.Background(), seq.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SequenceStatusArchived, got.Status)

	gotE, err := st.GetEnrollment(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusExited, gotE.Status)
	assert.Equal(t, models.ExitReasonSequenceArchived, gotE.ExitReason)
	assert.Nil(t, gotE.NextSendAt)
	assert.NotNil(t, gotE.ExitedAt)
	assert.Equal(t, []uint{e.ID}, notifier.ids())

	// Archived is terminal.
	assert.ErrorIs(t, lc.Activate(context.Background(), seq.ID), ErrInvalidState)
	assert.ErrorIs(t, lc.Archive(context.Background(), seq.ID), ErrInvalidState)
}

func TestEnrollSetsFirstSendTime(t *testing.T) {
	st := store.NewMemoryStore()
	lc := newTestLifecycle(st, nil)
	seq := seedSequence(t, st, models.SequenceStatusActive, 90*time.Minute, 24*time.Hour)
	lead := seedLead(t, st)

	e, err := lc.Enroll(context.Background(), seq.ID, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, e.CurrentStepIndex)
	assert.Equal(t, models.EnrollmentStatusActive, e.Status)
	require.NotNil(t, e.NextSendAt)
	assert.Equal(t, testBase.Add(90*time.Minute), *e.NextSendAt)
	assert.Equal(t, testBase, e.EnrolledAt)
}

func TestEnrollZeroDelayFirstStepDueImmediately(t *testing.T) {
	st := store.NewMemoryStore()
	lc := newTestLifecycle(st, nil)
	seq := seedSequence(t, st, models.SequenceStatusActive, 0)
	lead := seedLead(t, st)

	e, err := lc.Enroll(context.Background(), seq.ID, lead.ID)
	require.NoError(t, err)
	require.NotNil(t, e.NextSendAt)
	assert.Equal(t, testBase, *e.NextSendAt)
}

func TestEnrollDuplicateActivePairConflicts(t *testing.T) {
	st := store.NewMemoryStore()
	lc := newTestLifecycle(st, nil)
	seq := seedSequence(t, st, models.SequenceStatusActive, 0)
	lead := seedLead(t, st)

	e, err := lc.Enroll(context.Background(), seq.ID, lead.ID)
	require.NoError(t, err)

	_, err = lc.Enroll(context.Background(), seq.ID, lead.ID)
	assert.ErrorIs(t, err, ErrConflict)

	// A terminal enrollment does not block re-enrollment.
	require.NoError(t, lc.Unenroll(context.Background(), e.ID, ""))
	_, err = lc.Enroll(context.Background(), seq.ID, lead.ID)
	assert.NoError(t, err)
}

func TestEnrollRejectsSuppressedLead(t *testing.T) {
	st := store.NewMemoryStore()
	lc := newTestLifecycle(st, nil)
	seq := seedSequence(t, st, models.SequenceStatusActive, 0)
	lead := seedLead(t, st)
	require.NoError(t, st.MarkLeadUnsubscribed(context.Background(), lead.ID))

	_, err := lc.Enroll(context.Background(), seq.ID, lead.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestEnrollRejectsArchivedAndSteplessSequences(t *testing.T) {
	st := store.NewMemoryStore()
	lc := newTestLifecycle(st, nil)
	lead := seedLead(t, st)

	archived := seedSequence(t, st, models.SequenceStatusArchived, 0)
	_, err := lc.Enroll(context.Background(), archived.ID, lead.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	stepless := seedSequence(t, st, models.SequenceStatusDraft)
	_, err = lc.Enroll(context.Background(), stepless.ID, lead.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = lc.Enroll(context.Background(), 9999, lead.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnenrollIsIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	lc := newTestLifecycle(st, nil)
	seq := seedSequence(t, st, models.SequenceStatusActive, 0)
	lead := seedLead(t, st)

	e, err := lc.Enroll(context.Background(), seq.ID, lead.ID)
	require.NoError(t, err)

	require.NoError(t, lc.Unenroll(context.Background(), e.ID, ""))
	got, err := st.GetEnrollment(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusExited, got.Status)
	assert.Equal(t, models.ExitReasonManual, got.ExitReason)

	// Second unenroll is a no-op, not an error, and the reason sticks.
	require.NoError(t, lc.Unenroll(context.Background(), e.ID, "whatever"))
	got, err = st.GetEnrollment(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExitReasonManual, got.ExitReason)

	assert.ErrorIs(t, lc.Unenroll(context.Background(), 9999, ""), ErrNotFound)
}

func TestAddStepShiftsSiblings(t *testing.T) {
	st := store.NewMemoryStore()
	lc := newTestLifecycle(st, nil)
	seq := seedSequence(t, st, models.SequenceStatusDraft, 0, time.Hour)

	inserted := &models.SequenceStep{StepOrder: 0, Subject: "New first", Body: "Hi"}
	require.NoError(t, lc.AddStep(context.Background(), seq.ID, inserted))

	steps, err := st.ListSteps(context.Background(), seq.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "New first", steps[0].Subject)
	for i := range steps {
		assert.Equal(t, i, steps[i].StepOrder)
	}
}

func TestAddStepOutOfRangeOrderAppends(t *testing.T) {
	st := store.NewMemoryStore()
	lc := newTestLifecycle(st, nil)
	seq := seedSequence(t, st, models.SequenceStatusDraft, 0)

	step := &models.SequenceStep{StepOrder: 42, Subject: "Last", Body: "Bye"}
	require.NoError(t, lc.AddStep(context.Background(), seq.ID, step))
	assert.Equal(t, 1, step.StepOrder)
}

func TestAddStepShiftsEnrollmentCursors(t *testing.T) {
	st := store.NewMemoryStore()
	lc := newTestLifecycle(st, nil)
	seq := seedSequence(t, st, models.SequenceStatusActive, 0, time.Hour)
	lead := seedLead(t, st)
	other := &models.Lead{UserID: 1, Email: "bob@example.com", FirstName: "Bob"}
	require.NoError(t, st.CreateLead(context.Background(), other))

	// One lead has already received step 0; the other is still waiting on it.
	sent, err := lc.Enroll(context.Background(), seq.ID, lead.ID)
	require.NoError(t, err)
	sent.CurrentStepIndex = 1
	require.NoError(t, st.SaveEnrollment(context.Background(), sent))
	waiting, err := lc.Enroll(context.Background(), seq.ID, other.ID)
	require.NoError(t, err)

	inserted := &models.SequenceStep{StepOrder: 1, Subject: "Inserted", Body: "Hi"}
	require.NoError(t, lc.AddStep(context.Background(), seq.ID, inserted))

	// The advanced enrollment shifts with the renumbering and still points
	// at the step it had not yet received.
	got, err := st.GetEnrollment(context.Background(), sent.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentStepIndex)

	// An enrollment before the insertion point is untouched.
	got, err = st.GetEnrollment(context.Background(), waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentStepIndex)
}

func TestAddStepValidation(t *testing.T) {
	st := store.NewMemoryStore()
	lc := newTestLifecycle(st, nil)
	seq := seedSequence(t, st, models.SequenceStatusDraft)
	tplID := uint(7)

	cases := []struct {
		name string
		step models.SequenceStep
	}{
		{"no content", models.SequenceStep{}},
		{"template and inline", models.SequenceStep{TemplateID: &tplID, Subject: "Hi"}},
		{"negative delay", models.SequenceStep{Subject: "Hi", Body: "x", DelayHours: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			step := tc.step
			assert.ErrorIs(t, lc.AddStep(context.Background(), seq.ID, &step), ErrInvalidState)
		})
	}
}

func TestRemoveStepRenumbersAndShiftsEnrollments(t *testing.T) {
	st := store.NewMemoryStore()
	lc := newTestLifecycle(st, nil)
	seq := seedSequence(t, st, models.SequenceStatusActive, 0, time.Hour, 2*time.Hour)
	lead := seedLead(t, st)

	e, err := lc.Enroll(context.Background(), seq.ID, lead.ID)
	require.NoError(t, err)
	e.CurrentStepIndex = 2
	require.NoError(t, st.SaveEnrollment(context.Background(), e))

	steps, err := st.ListSteps(context.Background(), seq.ID)
	require.NoError(t, err)
	removed := steps[1]

	require.NoError(t, lc.RemoveStep(context.Background(), seq.ID, removed.ID))

	steps, err = st.ListSteps(context.Background(), seq.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	for i := range steps {
		assert.Equal(t, i, steps[i].StepOrder)
		assert.NotEqual(t, removed.ID, steps[i].ID)
	}

	// The enrollment still points at the same logical step, now at index 1.
	got, err := st.GetEnrollment(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStepIndex)
	assert.Equal(t, models.EnrollmentStatusActive, got.Status)
}

func TestRemoveLastRemainingStepCompletesEnrollments(t *testing.T) {
	st := store.NewMemoryStore()
	lc := newTestLifecycle(st, nil)
	seq := seedSequence(t, st, models.SequenceStatusActive, 0)
	lead := seedLead(t, st)

	e, err := lc.Enroll(context.Background(), seq.ID, lead.ID)
	require.NoError(t, err)

	steps, err := st.ListSteps(context.Background(), seq.ID)
	require.NoError(t, err)
	require.NoError(t, lc.RemoveStep(context.Background(), seq.ID, steps[0].ID))

	got, err := st.GetEnrollment(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, got.Status)
	assert.Nil(t, got.NextSendAt)
}

func TestRemoveUnknownStep(t *testing.T) {
	st := store.NewMemoryStore()
	lc := newTestLifecycle(st, nil)
	seq := seedSequence(t, st, models.SequenceStatusDraft, 0)

	assert.ErrorIs(t, lc.RemoveStep(context.Background(), seq.ID, 9999), ErrNotFound)
}

func TestReorderSteps(t *testing.T) {
	st := store.NewMemoryStore()
	lc := newTestLifecycle(st, nil)
	seq := seedSequence(t, st, models.SequenceStatusDraft, 0, time.Hour, 2*time.Hour)

	steps, err := st.ListSteps(context.Background(), seq.ID)
	require.NoError(t, err)

	require.NoError(t, lc.ReorderSteps(context.Background(), seq.ID,
		[]uint{steps[2].ID, steps[0].ID, steps[1].ID}))

	got, err := st.ListSteps(context.Background(), seq.ID)
	require.NoError(t, err)
	assert.Equal(t, steps[2].ID, got[0].ID)
	assert.Equal(t, steps[0].ID, got[1].ID)
	assert.Equal(t, steps[1].ID, got[2].ID)
}

func TestReorderStepsRejectsBadPermutations(t *testing.T) {
	st := store.NewMemoryStore()
	lc := newTestLifecycle(st, nil)
	seq := seedSequence(t, st, models.SequenceStatusDraft, 0, time.Hour)

	steps, err := st.ListSteps(context.Background(), seq.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, lc.ReorderSteps(context.Background(), seq.ID, []uint{steps[0].ID}), ErrInvalidState)
	assert.ErrorIs(t, lc.ReorderSteps(context.Background(), seq.ID, []uint{steps[0].ID, 9999}), ErrNotFound)
	assert.ErrorIs(t, lc.ReorderSteps(context.Background(), seq.ID, []uint{steps[0].ID, steps[0].ID}), ErrInvalidState)
}
