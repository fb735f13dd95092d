package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"leadpilot/models"
)

// MemoryStore is an in-memory Store used by tests and local development. All
// methods copy records in and out so callers never share memory with the
// store.
type MemoryStore struct {
	mu sync.Mutex

	sequences   map[uint]*models.Sequence
	steps       map[uint]*models.SequenceStep
	enrollments map[uint]*models.Enrollment
	events      map[uint]*models.SequenceEvent
	leads       map[uint]*models.Lead
	templates   map[uint]*models.Template

	eventKeys map[string]bool // event_type + "\x00" + event_id

	nextID uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sequences:   make(map[uint]*models.Sequence),
		steps:       make(map[uint]*models.SequenceStep),
		enrollments: make(map[uint]*models.Enrollment),
		events:      make(map[uint]*models.SequenceEvent),
		leads:       make(map[uint]*models.Lead),
		templates:   make(map[uint]*models.Template),
		eventKeys:   make(map[string]bool),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) allocID() uint {
	s.nextID++
	return s.nextID
}

func eventKey(eventType, eventID string) string {
	return eventType + "\x00" + eventID
}

func (s *MemoryStore) CreateSequence(_ context.Context, seq *models.Sequence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq.ID == 0 {
		seq.ID = s.allocID()
	}
	if seq.Status == "" {
		seq.Status = models.SequenceStatusDraft
	}
	cp := *seq
	s.sequences[seq.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSequence(_ context.Context, id uint) (*models.Sequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.sequences[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *seq
	return &cp, nil
}

func (s *MemoryStore) ListSequences(_ context.Context, userID uint) ([]models.Sequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Sequence
	for _, seq := range s.sequences {
		if seq.UserID == userID {
			out = append(out, *seq)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateSequenceStatus(_ context.Context, id uint, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.sequences[id]
	if !ok {
		return ErrNotFound
	}
	seq.Status = status
	return nil
}

func (s *MemoryStore) IncrementSequenceCounter(_ context.Context, id uint, column string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.sequences[id]
	if !ok {
		return ErrNotFound
	}
	switch column {
	case "total_sent":
		seq.TotalSent += delta
	case "total_opened":
		seq.TotalOpened += delta
	case "total_clicked":
		seq.TotalClicked += delta
	case "total_replied":
		seq.TotalReplied += delta
	}
	return nil
}

func (s *MemoryStore) SetSequenceCounters(_ context.Context, id uint, sent, opened, clicked, replied int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.sequences[id]
	if !ok {
		return ErrNotFound
	}
	seq.TotalSent = sent
	seq.TotalOpened = opened
	seq.TotalClicked = clicked
	seq.TotalReplied = replied
	return nil
}

func (s *MemoryStore) CreateStep(_ context.Context, step *models.SequenceStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if step.ID == 0 {
		step.ID = s.allocID()
	}
	cp := *step
	s.steps[step.ID] = &cp
	return nil
}

func (s *MemoryStore) GetStep(_ context.Context, id uint) (*models.SequenceStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *step
	return &cp, nil
}

func (s *MemoryStore) ListSteps(_ context.Context, sequenceID uint) ([]models.SequenceStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SequenceStep
	for _, step := range s.steps {
		if step.SequenceID == sequenceID {
			out = append(out, *step)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out, nil
}

func (s *MemoryStore) SaveSteps(_ context.Context, steps []models.SequenceStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range steps {
		if steps[i].ID == 0 {
			steps[i].ID = s.allocID()
		}
		cp := steps[i]
		s.steps[cp.ID] = &cp
	}
	return nil
}

func (s *MemoryStore) DeleteStep(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.steps, id)
	return nil
}

func (s *MemoryStore) IncrementStepCounter(_ context.Context, id uint, column string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[id]
	if !ok {
		return ErrNotFound
	}
	switch column {
	case "sent_count":
		step.SentCount += delta
	case "opened_count":
		step.OpenedCount += delta
	case "clicked_count":
		step.ClickedCount += delta
	case "replied_count":
		step.RepliedCount += delta
	}
	return nil
}

func (s *MemoryStore) SetStepCounters(_ context.Context, id uint, sent, opened, clicked, replied int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[id]
	if !ok {
		return ErrNotFound
	}
	step.SentCount = sent
	step.OpenedCount = opened
	step.ClickedCount = clicked
	step.RepliedCount = replied
	return nil
}

func (s *MemoryStore) CreateEnrollment(_ context.Context, e *models.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == 0 {
		e.ID = s.allocID()
	}
	cp := *e
	s.enrollments[e.ID] = &cp
	return nil
}

func (s *MemoryStore) GetEnrollment(_ context.Context, id uint) (*models.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) SaveEnrollment(_ context.Context, e *models.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == 0 {
		e.ID = s.allocID()
	}
	cp := *e
	s.enrollments[e.ID] = &cp
	return nil
}

func (s *MemoryStore) ActiveEnrollment(_ context.Context, sequenceID, leadID uint) (*models.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.enrollments {
		if e.SequenceID == sequenceID && e.LeadID == leadID && e.Status == models.EnrollmentStatusActive {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ActiveEnrollmentsBySequence(_ context.Context, sequenceID uint) ([]models.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Enrollment
	for _, e := range s.enrollments {
		if e.SequenceID == sequenceID && e.Status == models.EnrollmentStatusActive {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ActiveEnrollmentsByLead(_ context.Context, leadID uint) ([]models.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Enrollment
	for _, e := range s.enrollments {
		if e.LeadID == leadID && e.Status == models.EnrollmentStatusActive {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListEnrollments(_ context.Context, sequenceID uint) ([]models.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Enrollment
	for _, e := range s.enrollments {
		if e.SequenceID == sequenceID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) DueEnrollments(_ context.Context, now time.Time, limit int) ([]models.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Enrollment
	for _, e := range s.enrollments {
		if e.Status != models.EnrollmentStatusActive || e.NextSendAt == nil || e.NextSendAt.After(now) {
			continue
		}
		seq, ok := s.sequences[e.SequenceID]
		if !ok || seq.Status != models.SequenceStatusActive {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextSendAt.Before(*out[j].NextSendAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, ev *models.SequenceEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := eventKey(ev.EventType, ev.EventID)
	if s.eventKeys[key] {
		return false, nil
	}
	s.eventKeys[key] = true
	if ev.ID == 0 {
		ev.ID = s.allocID()
	}
	cp := *ev
	s.events[ev.ID] = &cp
	return true, nil
}

func (s *MemoryStore) EventsBySequence(_ context.Context, sequenceID uint) ([]models.SequenceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SequenceEvent
	for _, ev := range s.events {
		if ev.SequenceID == sequenceID {
			out = append(out, *ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SentEventByMessageID(_ context.Context, messageID string) (*models.SequenceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.MessageID == messageID && ev.EventType == models.EventTypeSent {
			cp := *ev
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) CreateLead(_ context.Context, lead *models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lead.ID == 0 {
		lead.ID = s.allocID()
	}
	cp := *lead
	s.leads[lead.ID] = &cp
	return nil
}

func (s *MemoryStore) GetLead(_ context.Context, id uint) (*models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *lead
	return &cp, nil
}

func (s *MemoryStore) MarkLeadBounced(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[id]
	if !ok {
		return ErrNotFound
	}
	lead.IsBounced = true
	return nil
}

func (s *MemoryStore) MarkLeadUnsubscribed(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[id]
	if !ok {
		return ErrNotFound
	}
	lead.IsUnsubscribed = true
	return nil
}

func (s *MemoryStore) CreateTemplate(_ context.Context, tpl *models.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tpl.ID == 0 {
		tpl.ID = s.allocID()
	}
	cp := *tpl
	s.templates[tpl.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTemplate(_ context.Context, id uint) (*models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tpl
	return &cp, nil
}
