package controller

import (
	"leadpilot/engine"
	"leadpilot/models"
	"leadpilot/store"
	"leadpilot/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// EventController accepts engagement signals: provider webhooks on one side,
// the pixel and click-redirect endpoints baked into outgoing mail on the
// other.
type EventController struct {
	Store          store.Store
	Ingest         *engine.Ingest
	TrackingSecret string
	Logger         *logrus.Logger
}

func NewEventController(s store.Store, ing *engine.Ingest, trackingSecret string, logger *logrus.Logger) *EventController {
	return &EventController{
		Store:          s,
		Ingest:         ing,
		TrackingSecret: trackingSecret,
		Logger:         logger,
	}
}

// HandleEventWebhook ingests a provider-reported engagement event. Replays
// of the same event_id are acknowledged without effect.
func (ec *EventController) HandleEventWebhook(c *fiber.Ctx) error {
	var input struct {
		Type         string `json:"type" validate:"required,oneof=opened clicked replied unsubscribed"`
		EventID      string `json:"event_id" validate:"required"`
		EnrollmentID uint   `json:"enrollment_id"`
		StepID       uint   `json:"step_id"`
		LeadID       uint   `json:"lead_id"`
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

	var err error
	switch input.Type {
	case models.EventTypeOpened:
		err = ec.Ingest.RecordOpen(c.Context(), input.EnrollmentID, input.StepID, input.EventID)
	case models.EventTypeClicked:
		err = ec.Ingest.RecordClick(c.Context(), input.EnrollmentID, input.StepID, input.EventID)
	case models.EventTypeReplied:
		err = ec.Ingest.RecordReply(c.Context(), input.EnrollmentID, input.StepID, input.EventID)
	case models.EventTypeUnsubscribed:
		if input.LeadID == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "lead_id is required for unsubscribe events",
			})
		}
		err = ec.Ingest.RecordUnsubscribe(c.Context(), input.LeadID, input.EventID)
	}
	if err != nil {
		return c.Status(statusForError(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"message": "Event processed",
	})
}

// HandleOpenTracking serves the tracking pixel and counts the open. The
// event id is derived from the message id, so repeat opens of one email count
// once.
func (ec *EventController) HandleOpenTracking(c *fiber.Ctx) error {
	messageID := c.Params("messageID")
	token := c.Params("token")

	if !utils.ValidTrackingToken(ec.TrackingSecret, messageID, token) {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid token")
	}

	ev, err := ec.Store.SentEventByMessageID(c.Context(), messageID)
	if err == nil {
		if err := ec.Ingest.RecordOpen(c.Context(), ev.EnrollmentID, ev.StepID, "open:"+messageID); err != nil {
			ec.Logger.WithError(err).WithField("message_id", messageID).Warn("recording open")
		}
	}

	return c.Type("gif").Send(transparentPixel())
}

// HandleClickTracking counts the click and redirects to the original URL.
func (ec *EventController) HandleClickTracking(c *fiber.Ctx) error {
	messageID := c.Params("messageID")
	token := c.Params("token")
	originalURL := c.Query("url")

	if !utils.ValidTrackingToken(ec.TrackingSecret, messageID, token) {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid token")
	}
	if originalURL == "" {
		return c.Status(fiber.StatusBadRequest).SendString("Missing url")
	}

	ev, err := ec.Store.SentEventByMessageID(c.Context(), messageID)
	if err == nil {
		if err := ec.Ingest.RecordClick(c.Context(), ev.EnrollmentID, ev.StepID, "click:"+messageID); err != nil {
			ec.Logger.WithError(err).WithField("message_id", messageID).Warn("recording click")
		}
	}

	return c.Redirect(originalURL, fiber.StatusFound)
}

// HandleUnsubscribe serves the one-click unsubscribe link embedded in every
// sequence email.
func (ec *EventController) HandleUnsubscribe(c *fiber.Ctx) error {
	messageID := c.Params("messageID")
	token := c.Params("token")

	if !utils.ValidTrackingToken(ec.TrackingSecret, messageID, token) {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid token")
	}

	ev, err := ec.Store.SentEventByMessageID(c.Context(), messageID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).SendString("Unknown message")
	}
	if err := ec.Ingest.RecordUnsubscribe(c.Context(), ev.LeadID, "unsubscribe:"+messageID); err != nil {
		ec.Logger.WithError(err).WithField("lead_id", ev.LeadID).Error("recording unsubscribe")
		return c.Status(fiber.StatusInternalServerError).SendString("Failed to unsubscribe")
	}
	return c.SendString("You have been unsubscribed.")
}

func transparentPixel() []byte {
	// 1x1 transparent GIF
	return []byte{
		0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
		0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x21,
		0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00,
		0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44,
		0x01, 0x00, 0x3b,
	}
}
