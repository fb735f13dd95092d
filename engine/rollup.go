package engine

import (
	"context"

	"leadpilot/models"
	"leadpilot/store"
)

// Rate returns count/sent clamped to [0, 1]. A sequence that sent nothing
// has a rate of 0, never a division by zero.
func Rate(count, sent int) float64 {
	if sent <= 0 || count <= 0 {
		return 0
	}
	r := float64(count) / float64(sent)
	if r > 1 {
		return 1
	}
	return r
}

type counterSet struct {
	sent, opened, clicked, replied int
}

func (c *counterSet) bump(eventType string) {
	switch eventType {
	case models.EventTypeSent:
		c.sent++
	case models.EventTypeOpened:
		c.opened++
	case models.EventTypeClicked:
		c.clicked++
	case models.EventTypeReplied:
		c.replied++
	}
}

// Rollup rebuilds the denormalized counters on a sequence and its steps from
// the event log. The log is the source of truth; counters are a cache, and
// this is the one code path allowed to move them downward (correcting
// drift).
type Rollup struct {
	store store.Store
}

func NewRollup(s store.Store) *Rollup {
	return &Rollup{store: s}
}

// Recompute replaces the sequence's and every step's counters with values
// derived from the event log. Events are tolerated in any arrival order.
func (r *Rollup) Recompute(ctx context.Context, sequenceID uint) error {
	events, err := r.store.EventsBySequence(ctx, sequenceID)
	if err != nil {
		return err
	}
	var total counterSet
	perStep := make(map[uint]*counterSet)
	for i := range events {
		ev := &events[i]
		total.bump(ev.EventType)
		if ev.StepID == 0 {
			continue
		}
		c, ok := perStep[ev.StepID]
		if !ok {
			c = &counterSet{}
			perStep[ev.StepID] = c
		}
		c.bump(ev.EventType)
	}

	steps, err := r.store.ListSteps(ctx, sequenceID)
	if err != nil {
		return err
	}
	for i := range steps {
		c := perStep[steps[i].ID]
		if c == nil {
			c = &counterSet{}
		}
		if err := r.store.SetStepCounters(ctx, steps[i].ID, c.sent, c.opened, c.clicked, c.replied); err != nil {
			return err
		}
	}
	return r.store.SetSequenceCounters(ctx, sequenceID, total.sent, total.opened, total.clicked, total.replied)
}
