package routes

import (
	"leadpilot/config"
	controller "leadpilot/controllers"
	"leadpilot/engine"
	"leadpilot/store"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/sirupsen/logrus"
)

// SetupRoutes wires the HTTP surface: sequence configuration, enrollment
// management, event ingest and the tracking endpoints referenced from
// outgoing mail.
func SetupRoutes(app *fiber.App, s store.Store, lc *engine.Lifecycle, ing *engine.Ingest,
	ru *engine.Rollup, cfg *config.Config, log *logrus.Logger) {

	sequenceController := controller.NewSequenceController(s, lc, ru, log)
	enrollmentController := controller.NewEnrollmentController(s, lc, log)
	templateController := controller.NewTemplateController(s, log)
	eventController := controller.NewEventController(s, ing, cfg.TrackingSecret, log)

	api := app.Group("/api/v1", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Sequence configuration and lifecycle
	sequences := api.Group("/sequences")
	sequences.Post("/", sequenceController.CreateSequence)
	sequences.Get("/", sequenceController.ListSequences)
	sequences.Get("/:id", sequenceController.GetSequence)
	sequences.Post("/:id/activate", sequenceController.ActivateSequence)
	sequences.Post("/:id/pause", sequenceController.PauseSequence)
	sequences.Post("/:id/resume", sequenceController.ResumeSequence)
	sequences.Post("/:id/archive", sequenceController.ArchiveSequence)
	sequences.Post("/:id/steps", sequenceController.AddStep)
	sequences.Delete("/:id/steps/:stepID", sequenceController.RemoveStep)
	sequences.Put("/:id/steps/order", sequenceController.ReorderSteps)
	sequences.Get("/:id/stats", sequenceController.GetSequenceStats)
	sequences.Post("/:id/stats/recompute", sequenceController.RecomputeSequenceStats)

	// Enrollment management
	sequences.Post("/:id/enrollments", enrollmentController.EnrollLead)
	sequences.Get("/:id/enrollments", enrollmentController.ListEnrollments)
	enrollments := api.Group("/enrollments")
	enrollments.Get("/:id", enrollmentController.GetEnrollment)
	enrollments.Post("/:id/unenroll", enrollmentController.UnenrollLead)

	// Leads and templates
	api.Post("/leads", enrollmentController.CreateLead)
	templates := api.Group("/templates")
	templates.Post("/", templateController.CreateTemplate)
	templates.Get("/:id", templateController.GetTemplate)

	// Provider webhook
	api.Post("/events", eventController.HandleEventWebhook)

	// Tracking endpoints are unauthenticated; the HMAC token in the path is
	// the credential.
	track := app.Group("/track", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	track.Get("/open/:messageID/:token", eventController.HandleOpenTracking)
	track.Get("/click/:messageID/:token", eventController.HandleClickTracking)
	track.Get("/unsubscribe/:messageID/:token", eventController.HandleUnsubscribe)
}
