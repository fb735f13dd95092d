package engine

import (
	"context"
	"testing"
	"time"

	"leadpilot/models"
	"leadpilot/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIngest(st *store.MemoryStore, notifier LeadStatusNotifier) *Ingest {
	in := NewIngest(st, notifier, testLogger())
	in.now = func() time.Time { return testBase }
	return in
}

func TestRecordOpenIsIdempotentPerEventID(t *testing.T) {
	st := store.NewMemoryStore()
	in := newTestIngest(st, nil)
	lc := newTestLifecycle(st, nil)
	seq := seedSequence(t, st, models.SequenceStatusActive, 0)
	lead := seedLead(t, st)

	e, err := lc.Enroll(context.Background(), seq.ID, lead.ID)
	require.NoError(t, err)
	steps, err := st.ListSteps(context.Background(), seq.ID)
	require.NoError(t, err)
	stepID := steps[0].ID

	require.NoError(t, in.RecordOpen(context.Background(), e.ID, stepID, "evt-1"))
	require.NoError(t, in.RecordOpen(context.Background(), e.ID, stepID, "evt-1"))
	require.NoError(t, in.RecordOpen(context.Background(), e.ID, stepID, "evt-2"))

	step, err := st.GetStep(context.Background(), stepID)
	require.NoError(t, err)
	assert.Equal(t, 2, step.OpenedCount)

	got, err := st.GetSequence(context.Background(), seq.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalOpened)

	events, err := st.EventsBySequence(context.Background(), seq.ID)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestRecordClickCounts(t *testing.T) {
	st := store.NewMemoryStore()
	in := newTestIngest(st, nil)
	lc := newTestLifecycle(st, nil)
	seq := seedSequence(t, st, models.SequenceStatusActive, 0)
	lead := seedLead(t, st)

	e, err := lc.Enroll(context.Background(), seq.ID, lead.ID)
	require.NoError(t, err)
	steps, err := st.ListSteps(context.Background(), seq.ID)
	require.NoError(t, err)

	require.NoError(t, in.RecordClick(context.Background(), e.ID, steps[0].ID, "click-1"))

	step, err := st.GetStep(context.Background(), steps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, step.ClickedCount)

	// An open with the same raw id is a different event type; both count.
	require.NoError(t, in.RecordOpen(context.Background(), e.ID, steps[0].ID, "click-1"))
	got, err := st.GetSequence(context.Background(), seq.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalClicked)
	assert.Equal(t, 1, got.TotalOpened)

	assert.ErrorIs(t, in.RecordClick(context.Background(), 9999, steps[0].ID, "x"), ErrNotFound)
}

func TestRecordReplyExitsOnlyThatSequence(t *testing.T) {
	st := store.NewMemoryStore()
	notifier := &recordingNotifier{}
	in := newTestIngest(st, notifier)
	lc := newTestLifecycle(st, nil)
	seqA := seedSequence(t, st, models.SequenceStatusActive, 0, time.Hour)
	seqB := seedSequence(t, st, models.SequenceStatusActive, 0)
	lead := seedLead(t, st)

	eA, err := lc.Enroll(context.Background(), seqA.ID, lead.ID)
	require.NoError(t, err)
	eB, err := lc.Enroll(context.Background(), seqB.ID, lead.ID)
	require.NoError(t, err)

	require.NoError(t, in.RecordReply(context.Background(), eA.ID, 0, "reply-1"))

	gotA, err := st.GetEnrollment(context.Background(), eA.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusExited, gotA.Status)
	assert.Equal(t, models.ExitReasonReplied, gotA.ExitReason)
	assert.Nil(t, gotA.NextSendAt)

	// The lead's other enrollments are untouched.
	gotB, err := st.GetEnrollment(context.Background(), eB.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, gotB.Status)

	seqAfter, err := st.GetSequence(context.Background(), seqA.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, seqAfter.TotalReplied)
	assert.Equal(t, []uint{eA.ID}, notifier.ids())
}

func TestRecordReplyOnTerminalEnrollmentStillCounts(t *testing.T) {
	st := store.NewMemoryStore()
	in := newTestIngest(st, nil)
	lc := newTestLifecycle(st, nil)
	seq := seedSequence(t, st, models.SequenceStatusActive, 0)
	lead := seedLead(t, st)

	e, err := lc.Enroll(context.Background(), seq.ID, lead.ID)
	require.NoError(t, err)
	require.NoError(t, lc.Unenroll(context.Background(), e.ID, ""))

	// A late reply after completion still shows up in the stats, but the
	// terminal state and exit reason do not change.
	require.NoError(t, in.RecordReply(context.Background(), e.ID, 0, "late-reply"))

	got, err := st.GetEnrollment(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExitReasonManual, got.ExitReason)

	seqAfter, err := st.GetSequence(context.Background(), seq.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, seqAfter.TotalReplied)
}

func TestRecordReplyAttributesToLastSentStep(t *testing.T) {
	st := store.NewMemoryStore()
	in := newTestIngest(st, nil)
	lc := newTestLifecycle(st, nil)
	seq := seedSequence(t, st, models.SequenceStatusActive, 0, time.Hour)
	lead := seedLead(t, st)

	e, err := lc.Enroll(context.Background(), seq.ID, lead.ID)
	require.NoError(t, err)
	steps, err := st.ListSteps(context.Background(), seq.ID)
	require.NoError(t, err)

	// Step 0 was delivered and the cursor sits on the next unsent step.
	e.CurrentStepIndex = 1
	require.NoError(t, st.SaveEnrollment(context.Background(), e))

	require.NoError(t, in.RecordReply(context.Background(), e.ID, 0, "reply-1"))

	step0, err := st.GetStep(context.Background(), steps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, step0.RepliedCount)

	step1, err := st.GetStep(context.Background(), steps[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 0, step1.RepliedCount)
}

func TestRecordReplyWithExplicitStep(t *testing.T) {
	st := store.NewMemoryStore()
	in := newTestIngest(st, nil)
	lc := newTestLifecycle(st, nil)
	seq := seedSequence(t, st, models.SequenceStatusActive, 0, time.Hour)
	lead := seedLead(t, st)

	e, err := lc.Enroll(context.Background(), seq.ID, lead.ID)
	require.NoError(t, err)
	steps, err := st.ListSteps(context.Background(), seq.ID)
	require.NoError(t, err)

	// The inbox watcher matched the reply to a concrete sent event; its
	// step wins over the cursor heuristic.
	require.NoError(t, in.RecordReply(context.Background(), e.ID, steps[1].ID, "reply-2"))

	step1, err := st.GetStep(context.Background(), steps[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, step1.RepliedCount)

	step0, err := st.GetStep(context.Background(), steps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 0, step0.RepliedCount)
}

func TestRecordUnsubscribeExitsAllEnrollmentsAndSuppressesLead(t *testing.T) {
	st := store.NewMemoryStore()
	in := newTestIngest(st, nil)
	lc := newTestLifecycle(st, nil)
	seqA := seedSequence(t, st, models.SequenceStatusActive, 0)
	seqB := seedSequence(t, st, models.SequenceStatusActive, 0)
	lead := seedLead(t, st)

	eA, err := lc.Enroll(context.Background(), seqA.ID, lead.ID)
	require.NoError(t, err)
	eB, err := lc.Enroll(context.Background(), seqB.ID, lead.ID)
	require.NoError(t, err)

	require.NoError(t, in.RecordUnsubscribe(context.Background(), lead.ID, "unsub-1"))

	for _, id := range []uint{eA.ID, eB.ID} {
		got, err := st.GetEnrollment(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.EnrollmentStatusExited, got.Status)
		assert.Equal(t, models.ExitReasonUnsubscribed, got.ExitReason)
	}

	gotLead, err := st.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.True(t, gotLead.IsUnsubscribed)

	// Replaying the webhook finds no active enrollments and changes nothing.
	require.NoError(t, in.RecordUnsubscribe(context.Background(), lead.ID, "unsub-1"))

	eventsA, err := st.EventsBySequence(context.Background(), seqA.ID)
	require.NoError(t, err)
	assert.Len(t, eventsA, 1)
	assert.Equal(t, models.EventTypeUnsubscribed, eventsA[0].EventType)
}
