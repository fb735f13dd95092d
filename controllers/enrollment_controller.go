package controller

import (
	"leadpilot/engine"
	"leadpilot/models"
	"leadpilot/store"
	"leadpilot/utils"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type EnrollmentController struct {
	Store     store.Store
	Lifecycle *engine.Lifecycle
	Logger    *logrus.Logger
}

func NewEnrollmentController(s store.Store, lc *engine.Lifecycle, logger *logrus.Logger) *EnrollmentController {
	return &EnrollmentController{
		Store:     s,
		Lifecycle: lc,
		Logger:    logger,
	}
}

// CreateLead registers a contact the engine can enroll. Address format is
// checked up front so obviously broken addresses never reach a gateway.
func (ec *EnrollmentController) CreateLead(c *fiber.Ctx) error {
	var input struct {
		UserID    uint   `json:"user_id"`
		Email     string `json:"email" validate:"required,email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Company   string `json:"company"`
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
	if err := checkmail.ValidateFormat(input.Email); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid email address",
		})
	}

	lead := models.Lead{
		UserID:    input.UserID,
		Email:     input.Email,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Company:   input.Company,
	}
	if err := ec.Store.CreateLead(c.Context(), &lead); err != nil {
		ec.Logger.WithError(err).Error("creating lead")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create lead",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(lead))
}

func (ec *EnrollmentController) EnrollLead(c *fiber.Ctx) error {
	sequenceID := utils.ParseUint(c.Params("id"))

	var input struct {
		LeadID uint `json:"lead_id" validate:"required"`
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

	enrollment, err := ec.Lifecycle.Enroll(c.Context(), sequenceID, input.LeadID)
	if err != nil {
		return c.Status(statusForError(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(enrollment))
}

func (ec *EnrollmentController) UnenrollLead(c *fiber.Ctx) error {
	enrollmentID := utils.ParseUint(c.Params("id"))

	var input struct {
		Reason string `json:"reason"`
	}
	// Body is optional; an empty reason defaults to manual.
	_ = c.BodyParser(&input)

	if err := ec.Lifecycle.Unenroll(c.Context(), enrollmentID, input.Reason); err != nil {
		return c.Status(statusForError(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"message": "Enrollment exited",
	})
}

func (ec *EnrollmentController) GetEnrollment(c *fiber.Ctx) error {
	enrollmentID := utils.ParseUint(c.Params("id"))
	enrollment, err := ec.Store.GetEnrollment(c.Context(), enrollmentID)
	if err != nil {
		return c.Status(statusForError(err)).JSON(fiber.Map{
			"error": "Enrollment not found",
		})
	}
	return c.JSON(utils.SuccessResponse(enrollment))
}

func (ec *EnrollmentController) ListEnrollments(c *fiber.Ctx) error {
	sequenceID := utils.ParseUint(c.Params("id"))
	enrollments, err := ec.Store.ListEnrollments(c.Context(), sequenceID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list enrollments",
		})
	}
	return c.JSON(utils.SuccessResponse(enrollments))
}
