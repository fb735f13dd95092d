package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadpilot/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Store on top of a GORM connection (Postgres in
// production).
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

var _ Store = (*GormStore)(nil)

// Counter columns accepted by the increment methods. Anything else is a
// programming error.
var sequenceCounterColumns = map[string]bool{
	"total_sent":    true,
	"total_opened":  true,
	"total_clicked": true,
	"total_replied": true,
}

var stepCounterColumns = map[string]bool{
	"sent_count":    true,
	"opened_count":  true,
	"clicked_count": true,
	"replied_count": true,
}

func (s *GormStore) CreateSequence(ctx context.Context, seq *models.Sequence) error {
	return s.db.WithContext(ctx).Create(seq).Error
}

func (s *GormStore) GetSequence(ctx context.Context, id uint) (*models.Sequence, error) {
	var seq models.Sequence
	if err := s.db.WithContext(ctx).First(&seq, id).Error; err != nil {
		return nil, translate(err)
	}
	return &seq, nil
}

func (s *GormStore) ListSequences(ctx context.Context, userID uint) ([]models.Sequence, error) {
	var out []models.Sequence
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&out).Error
	return out, err
}

func (s *GormStore) UpdateSequenceStatus(ctx context.Context, id uint, status string) error {
	return s.db.WithContext(ctx).Model(&models.Sequence{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (s *GormStore) IncrementSequenceCounter(ctx context.Context, id uint, column string, delta int) error {
	if !sequenceCounterColumns[column] {
		return fmt.Errorf("unknown sequence counter column %q", column)
	}
	return s.db.WithContext(ctx).Model(&models.Sequence{}).
		Where("id = ?", id).
		UpdateColumn(column, gorm.Expr(column+" + ?", delta)).Error
}

func (s *GormStore) SetSequenceCounters(ctx context.Context, id uint, sent, opened, clicked, replied int) error {
	return s.db.WithContext(ctx).Model(&models.Sequence{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"total_sent":    sent,
			"total_opened":  opened,
			"total_clicked": clicked,
			"total_replied": replied,
		}).Error
}

func (s *GormStore) CreateStep(ctx context.Context, step *models.SequenceStep) error {
	return s.db.WithContext(ctx).Create(step).Error
}

func (s *GormStore) GetStep(ctx context.Context, id uint) (*models.SequenceStep, error) {
	var step models.SequenceStep
	if err := s.db.WithContext(ctx).First(&step, id).Error; err != nil {
		return nil, translate(err)
	}
	return &step, nil
}

func (s *GormStore) ListSteps(ctx context.Context, sequenceID uint) ([]models.SequenceStep, error) {
	var steps []models.SequenceStep
	err := s.db.WithContext(ctx).
		Where("sequence_id = ?", sequenceID).
		Order("step_order").
		Find(&steps).Error
	return steps, err
}

func (s *GormStore) SaveSteps(ctx context.Context, steps []models.SequenceStep) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range steps {
			if err := tx.Save(&steps[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormStore) DeleteStep(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&models.SequenceStep{}, id).Error
}

func (s *GormStore) IncrementStepCounter(ctx context.Context, id uint, column string, delta int) error {
	if !stepCounterColumns[column] {
		return fmt.Errorf("unknown step counter column %q", column)
	}
	return s.db.WithContext(ctx).Model(&models.SequenceStep{}).
		Where("id = ?", id).
		UpdateColumn(column, gorm.Expr(column+" + ?", delta)).Error
}

func (s *GormStore) SetStepCounters(ctx context.Context, id uint, sent, opened, clicked, replied int) error {
	return s.db.WithContext(ctx).Model(&models.SequenceStep{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"sent_count":    sent,
			"opened_count":  opened,
			"clicked_count": clicked,
			"replied_count": replied,
		}).Error
}

func (s *GormStore) CreateEnrollment(ctx context.Context, e *models.Enrollment) error {
	return s.db.WithContext(ctx).Create(e).Error
}

func (s *GormStore) GetEnrollment(ctx context.Context, id uint) (*models.Enrollment, error) {
	var e models.Enrollment
	if err := s.db.WithContext(ctx).First(&e, id).Error; err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

func (s *GormStore) SaveEnrollment(ctx context.Context, e *models.Enrollment) error {
	return s.db.WithContext(ctx).Save(e).Error
}

func (s *GormStore) ActiveEnrollment(ctx context.Context, sequenceID, leadID uint) (*models.Enrollment, error) {
	var e models.Enrollment
	err := s.db.WithContext(ctx).
		Where("sequence_id = ? AND lead_id = ? AND status = ?",
			sequenceID, leadID, models.EnrollmentStatusActive).
		First(&e).Error
	if err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

func (s *GormStore) ActiveEnrollmentsBySequence(ctx context.Context, sequenceID uint) ([]models.Enrollment, error) {
	var out []models.Enrollment
	err := s.db.WithContext(ctx).
		Where("sequence_id = ? AND status = ?", sequenceID, models.EnrollmentStatusActive).
		Find(&out).Error
	return out, err
}

func (s *GormStore) ActiveEnrollmentsByLead(ctx context.Context, leadID uint) ([]models.Enrollment, error) {
	var out []models.Enrollment
	err := s.db.WithContext(ctx).
		Where("lead_id = ? AND status = ?", leadID, models.EnrollmentStatusActive).
		Find(&out).Error
	return out, err
}

func (s *GormStore) ListEnrollments(ctx context.Context, sequenceID uint) ([]models.Enrollment, error) {
	var out []models.Enrollment
	err := s.db.WithContext(ctx).
		Where("sequence_id = ?", sequenceID).
		Order("id").
		Find(&out).Error
	return out, err
}

func (s *GormStore) DueEnrollments(ctx context.Context, now time.Time, limit int) ([]models.Enrollment, error) {
	var out []models.Enrollment
	err := s.db.WithContext(ctx).
		Joins("JOIN sequences ON sequences.id = enrollments.sequence_id").
		Where("enrollments.status = ? AND enrollments.next_send_at IS NOT NULL AND enrollments.next_send_at <= ? AND sequences.status = ?",
			models.EnrollmentStatusActive, now, models.SequenceStatusActive).
		Order("enrollments.next_send_at").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *GormStore) AppendEvent(ctx context.Context, ev *models.SequenceEvent) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(ev)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) EventsBySequence(ctx context.Context, sequenceID uint) ([]models.SequenceEvent, error) {
	var out []models.SequenceEvent
	err := s.db.WithContext(ctx).
		Where("sequence_id = ?", sequenceID).
		Order("id").
		Find(&out).Error
	return out, err
}

func (s *GormStore) SentEventByMessageID(ctx context.Context, messageID string) (*models.SequenceEvent, error) {
	var ev models.SequenceEvent
	err := s.db.WithContext(ctx).
		Where("message_id = ? AND event_type = ?", messageID, models.EventTypeSent).
		First(&ev).Error
	if err != nil {
		return nil, translate(err)
	}
	return &ev, nil
}

func (s *GormStore) CreateLead(ctx context.Context, lead *models.Lead) error {
	return s.db.WithContext(ctx).Create(lead).Error
}

func (s *GormStore) GetLead(ctx context.Context, id uint) (*models.Lead, error) {
	var lead models.Lead
	if err := s.db.WithContext(ctx).First(&lead, id).Error; err != nil {
		return nil, translate(err)
	}
	return &lead, nil
}

func (s *GormStore) MarkLeadBounced(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Model(&models.Lead{}).
		Where("id = ?", id).
		Update("is_bounced", true).Error
}

func (s *GormStore) MarkLeadUnsubscribed(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Model(&models.Lead{}).
		Where("id = ?", id).
		Update("is_unsubscribed", true).Error
}

func (s *GormStore) CreateTemplate(ctx context.Context, tpl *models.Template) error {
	return s.db.WithContext(ctx).Create(tpl).Error
}

func (s *GormStore) GetTemplate(ctx context.Context, id uint) (*models.Template, error) {
	var tpl models.Template
	if err := s.db.WithContext(ctx).First(&tpl, id).Error; err != nil {
		return nil, translate(err)
	}
	return &tpl, nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
