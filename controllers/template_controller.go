package controller

import (
	"leadpilot/models"
	"leadpilot/store"
	"leadpilot/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type TemplateController struct {
	Store  store.Store
	Logger *logrus.Logger
}

func NewTemplateController(s store.Store, logger *logrus.Logger) *TemplateController {
	return &TemplateController{Store: s, Logger: logger}
}

func (tc *TemplateController) CreateTemplate(c *fiber.Ctx) error {
	var input struct {
		UserID      uint   `json:"user_id" validate:"required"`
		Name        string `json:"name" validate:"required"`
		Subject     string `json:"subject" validate:"required"`
		HTMLContent string `json:"html_content"`
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

	tpl := models.Template{
		UserID:      input.UserID,
		Name:        input.Name,
		Subject:     input.Subject,
		HTMLContent: input.HTMLContent,
	}
	if err := tc.Store.CreateTemplate(c.Context(), &tpl); err != nil {
		tc.Logger.WithError(err).Error("creating template")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create template",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(tpl))
}

func (tc *TemplateController) GetTemplate(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	tpl, err := tc.Store.GetTemplate(c.Context(), id)
	if err != nil {
		return c.Status(statusForError(err)).JSON(fiber.Map{
			"error": "Template not found",
		})
	}
	return c.JSON(utils.SuccessResponse(tpl))
}
