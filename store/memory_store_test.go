package store

import (
	"context"
	"testing"
	"time"

	"leadpilot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedEnrollment(t *testing.T, st *MemoryStore, seqStatus string, nextSendAt *time.Time) *models.Enrollment {
	t.Helper()
	seq := &models.Sequence{UserID: 1, Name: "Seq", Status: seqStatus}
	require.NoError(t, st.CreateSequence(context.Background(), seq))
	e := &models.Enrollment{
		SequenceID: seq.ID,
		LeadID:     1,
		Status:     models.EnrollmentStatusActive,
		NextSendAt: nextSendAt,
	}
	require.NoError(t, st.CreateEnrollment(context.Background(), e))
	return e
}

func TestDueEnrollmentsSelection(t *testing.T) {
	st := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	earlier := now.Add(-2 * time.Hour)
	future := now.Add(time.Hour)

	due := seedEnrollment(t, st, models.SequenceStatusActive, &past)
	dueEarlier := seedEnrollment(t, st, models.SequenceStatusActive, &earlier)
	seedEnrollment(t, st, models.SequenceStatusActive, &future)
	seedEnrollment(t, st, models.SequenceStatusPaused, &past)
	seedEnrollment(t, st, models.SequenceStatusDraft, &past)
	seedEnrollment(t, st, models.SequenceStatusActive, nil)

	exited := seedEnrollment(t, st, models.SequenceStatusActive, &past)
	exited.Status = models.EnrollmentStatusExited
	require.NoError(t, st.SaveEnrollment(context.Background(), exited))

	got, err := st.DueEnrollments(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Ordered by due time, oldest first.
	assert.Equal(t, dueEarlier.ID, got[0].ID)
	assert.Equal(t, due.ID, got[1].ID)

	// A due time equal to now is due.
	atNow := seedEnrollment(t, st, models.SequenceStatusActive, &now)
	got, err = st.DueEnrollments(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, atNow.ID, got[2].ID)

	got, err = st.DueEnrollments(context.Background(), now, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestAppendEventDeduplicates(t *testing.T) {
	st := NewMemoryStore()

	inserted, err := st.AppendEvent(context.Background(), &models.SequenceEvent{
		SequenceID: 1, EventType: models.EventTypeOpened, EventID: "evt-1", OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = st.AppendEvent(context.Background(), &models.SequenceEvent{
		SequenceID: 1, EventType: models.EventTypeOpened, EventID: "evt-1", OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	assert.False(t, inserted)

	// Same id under a different type is a distinct event.
	inserted, err = st.AppendEvent(context.Background(), &models.SequenceEvent{
		SequenceID: 1, EventType: models.EventTypeClicked, EventID: "evt-1", OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, inserted)

	events, err := st.EventsBySequence(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestActiveEnrollmentPairLookup(t *testing.T) {
	st := NewMemoryStore()
	seq := &models.Sequence{UserID: 1, Name: "Seq", Status: models.SequenceStatusActive}
	require.NoError(t, st.CreateSequence(context.Background(), seq))

	_, err := st.ActiveEnrollment(context.Background(), seq.ID, 42)
	assert.ErrorIs(t, err, ErrNotFound)

	e := &models.Enrollment{SequenceID: seq.ID, LeadID: 42, Status: models.EnrollmentStatusActive}
	require.NoError(t, st.CreateEnrollment(context.Background(), e))

	got, err := st.ActiveEnrollment(context.Background(), seq.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)

	e.Status = models.EnrollmentStatusCompleted
	require.NoError(t, st.SaveEnrollment(context.Background(), e))
	_, err = st.ActiveEnrollment(context.Background(), seq.ID, 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSentEventByMessageID(t *testing.T) {
	st := NewMemoryStore()

	_, err := st.AppendEvent(context.Background(), &models.SequenceEvent{
		SequenceID: 1, EnrollmentID: 2, StepID: 3, LeadID: 4,
		EventType: models.EventTypeSent, EventID: "enrollment:2:step:0",
		MessageID: "msg-abc", OccurredAt: time.Now(),
	})
	require.NoError(t, err)

	got, err := st.SentEventByMessageID(context.Background(), "msg-abc")
	require.NoError(t, err)
	assert.Equal(t, uint(2), got.EnrollmentID)
	assert.Equal(t, uint(3), got.StepID)

	_, err = st.SentEventByMessageID(context.Background(), "msg-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
