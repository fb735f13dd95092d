package controller

import (
	"context"
	"errors"

	"leadpilot/engine"
	"leadpilot/models"
	"leadpilot/store"
	"leadpilot/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type SequenceController struct {
	Store     store.Store
	Lifecycle *engine.Lifecycle
	Rollup    *engine.Rollup
	Logger    *logrus.Logger
}

func NewSequenceController(s store.Store, lc *engine.Lifecycle, ru *engine.Rollup, logger *logrus.Logger) *SequenceController {
	return &SequenceController{
		Store:     s,
		Lifecycle: lc,
		Rollup:    ru,
		Logger:    logger,
	}
}

// statusForError maps engine errors onto HTTP statuses shared by every
// controller in this package.
func statusForError(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, engine.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, engine.ErrInvalidState):
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

type stepInput struct {
	Name         string `json:"name"`
	DelayDays    int    `json:"delay_days" validate:"gte=0"`
	DelayHours   int    `json:"delay_hours" validate:"gte=0"`
	DelayMinutes int    `json:"delay_minutes" validate:"gte=0"`
	TemplateID   *uint  `json:"template_id"`
	Subject      string `json:"subject"`
	Body         string `json:"body"`
}

func (in *stepInput) toModel(order int) models.SequenceStep {
	return models.SequenceStep{
		StepOrder:    order,
		Name:         in.Name,
		DelayDays:    in.DelayDays,
		DelayHours:   in.DelayHours,
		DelayMinutes: in.DelayMinutes,
		TemplateID:   in.TemplateID,
		Subject:      in.Subject,
		Body:         in.Body,
	}
}

func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	var input struct {
		UserID      uint        `json:"user_id" validate:"required"`
		Name        string      `json:"name" validate:"required"`
		Description string      `json:"description"`
		Steps       []stepInput `json:"steps"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	seq := models.Sequence{
		UserID:      input.UserID,
		Name:        input.Name,
		Description: input.Description,
		Status:      models.SequenceStatusDraft,
	}
	if err := sc.Store.CreateSequence(c.Context(), &seq); err != nil {
		sc.Logger.WithError(err).Error("creating sequence")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create sequence",
		})
	}
	for i := range input.Steps {
		step := input.Steps[i].toModel(i)
		if err := sc.Lifecycle.AddStep(c.Context(), seq.ID, &step); err != nil {
			return c.Status(statusForError(err)).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(seq))
}

func (sc *SequenceController) GetSequence(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	seq, err := sc.Store.GetSequence(c.Context(), id)
	if err != nil {
		return c.Status(statusForError(err)).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}
	steps, err := sc.Store.ListSteps(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load steps",
		})
	}
	seq.Steps = steps
	return c.JSON(utils.SuccessResponse(seq))
}

func (sc *SequenceController) ListSequences(c *fiber.Ctx) error {
	userID := utils.ParseUint(c.Query("user_id"))
	sequences, err := sc.Store.ListSequences(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list sequences",
		})
	}
	return c.JSON(utils.SuccessResponse(sequences))
}

func (sc *SequenceController) ActivateSequence(c *fiber.Ctx) error {
	return sc.transition(c, sc.Lifecycle.Activate, "Sequence activated")
}

func (sc *SequenceController) PauseSequence(c *fiber.Ctx) error {
	return sc.transition(c, sc.Lifecycle.Pause, "Sequence paused")
}

func (sc *SequenceController) ResumeSequence(c *fiber.Ctx) error {
	return sc.transition(c, sc.Lifecycle.Resume, "Sequence resumed")
}

func (sc *SequenceController) ArchiveSequence(c *fiber.Ctx) error {
	return sc.transition(c, sc.Lifecycle.Archive, "Sequence archived")
}

func (sc *SequenceController) transition(c *fiber.Ctx, fn func(ctx context.Context, id uint) error, message string) error {
	id := utils.ParseUint(c.Params("id"))
	if err := fn(c.Context(), id); err != nil {
		return c.Status(statusForError(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"message": message,
	})
}

func (sc *SequenceController) AddStep(c *fiber.Ctx) error {
	sequenceID := utils.ParseUint(c.Params("id"))

	var input struct {
		stepInput
		StepOrder *int `json:"step_order"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(input.stepInput); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	// Missing step_order appends.
	order := -1
	if input.StepOrder != nil {
		order = *input.StepOrder
	}
	step := input.stepInput.toModel(order)
	if err := sc.Lifecycle.AddStep(c.Context(), sequenceID, &step); err != nil {
		return c.Status(statusForError(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(step))
}

func (sc *SequenceController) RemoveStep(c *fiber.Ctx) error {
	sequenceID := utils.ParseUint(c.Params("id"))
	stepID := utils.ParseUint(c.Params("stepID"))

	if err := sc.Lifecycle.RemoveStep(c.Context(), sequenceID, stepID); err != nil {
		return c.Status(statusForError(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"message": "Step removed",
	})
}

func (sc *SequenceController) ReorderSteps(c *fiber.Ctx) error {
	sequenceID := utils.ParseUint(c.Params("id"))

	var input struct {
		StepIDs []uint `json:"step_ids" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := sc.Lifecycle.ReorderSteps(c.Context(), sequenceID, input.StepIDs); err != nil {
		return c.Status(statusForError(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"message": "Steps reordered",
	})
}

// GetSequenceStats reports the sequence's denormalized counters with derived
// rates, plus a per-step breakdown.
func (sc *SequenceController) GetSequenceStats(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	seq, err := sc.Store.GetSequence(c.Context(), id)
	if err != nil {
		return c.Status(statusForError(err)).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}
	steps, err := sc.Store.ListSteps(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load steps",
		})
	}

	stepStats := make([]fiber.Map, 0, len(steps))
	for i := range steps {
		s := &steps[i]
		stepStats = append(stepStats, fiber.Map{
			"step_id":       s.ID,
			"step_order":    s.StepOrder,
			"name":          s.Name,
			"sent_count":    s.SentCount,
			"opened_count":  s.OpenedCount,
			"clicked_count": s.ClickedCount,
			"replied_count": s.RepliedCount,
			"open_rate":     engine.Rate(s.OpenedCount, s.SentCount),
			"click_rate":    engine.Rate(s.ClickedCount, s.SentCount),
			"reply_rate":    engine.Rate(s.RepliedCount, s.SentCount),
		})
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"sequence_id":   seq.ID,
		"status":        seq.Status,
		"total_sent":    seq.TotalSent,
		"total_opened":  seq.TotalOpened,
		"total_clicked": seq.TotalClicked,
		"total_replied": seq.TotalReplied,
		"open_rate":     engine.Rate(seq.TotalOpened, seq.TotalSent),
		"click_rate":    engine.Rate(seq.TotalClicked, seq.TotalSent),
		"reply_rate":    engine.Rate(seq.TotalReplied, seq.TotalSent),
		"steps":         stepStats,
	}))
}

// RecomputeSequenceStats rebuilds the counters from the event log.
func (sc *SequenceController) RecomputeSequenceStats(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	if _, err := sc.Store.GetSequence(c.Context(), id); err != nil {
		return c.Status(statusForError(err)).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}
	if err := sc.Rollup.Recompute(c.Context(), id); err != nil {
		sc.Logger.WithError(err).WithField("sequence_id", id).Error("recomputing stats")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to recompute stats",
		})
	}
	return c.JSON(fiber.Map{
		"message": "Stats recomputed",
	})
}
