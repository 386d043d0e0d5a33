package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/ConsultBack/internal/models"
	"github.com/saeid-a/ConsultBack/internal/services"
)

type ConsultationHandler struct {
	service consultationApplicationService
}

type consultationApplicationService interface {
	Create(ctx context.Context, requesterID int64, input services.CreateConsultationInput) (*models.Consultation, error)
	List(ctx context.Context, actorID int64, input services.ListConsultationsInput) ([]models.Consultation, int, error)
	History(ctx context.Context, actorID int64) ([]models.Consultation, error)
	Get(ctx context.Context, actorID int64, id int64) (*models.Consultation, error)
	Start(ctx context.Context, actorID int64, id int64) (*models.Consultation, error)
	End(ctx context.Context, actorID int64, id int64) (*models.Consultation, error)
	Cancel(ctx context.Context, actorID int64, id int64) (*models.Consultation, error)
	Rate(ctx context.Context, actorID int64, id int64, input services.RateConsultationInput) (*models.Consultation, error)
	Messages(ctx context.Context, actorID int64, id int64, page int, limit int) ([]models.ConsultationMessage, int, error)
}

func NewConsultationHandler(service *services.ConsultationService) *ConsultationHandler {
	return &ConsultationHandler{service: service}
}

type createConsultationRequest struct {
	ProviderID int64  `json:"provider_id"`
	Modality   string `json:"modality"`
}

type rateConsultationRequest struct {
	Rating int      `json:"rating"`
	Review *string  `json:"review"`
	Tags   []string `json:"tags"`
}

func (h *ConsultationHandler) Create(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return unauthenticated(c)
	}

	var req createConsultationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.ProviderID <= 0 {
		return badRequest(c, "provider_id is required")
	}

	consultation, err := h.service.Create(c.Context(), userID, services.CreateConsultationInput{
		ProviderID: req.ProviderID,
		Modality:   models.Modality(strings.ToLower(strings.TrimSpace(req.Modality))),
	})
	if err != nil {
		return mapConsultationError(c, err)
	}

	return respond(c, fiber.StatusCreated, "Consultation request created", consultation)
}

func (h *ConsultationHandler) List(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return unauthenticated(c)
	}

	page, limit := parsePageParams(c)
	consultations, total, err := h.service.List(c.Context(), userID, services.ListConsultationsInput{
		Status: models.ConsultationStatus(strings.TrimSpace(c.Query("status"))),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		return mapConsultationError(c, err)
	}

	return respondPage(c, consultations, buildPaginationMeta(page, limit, total))
}

func (h *ConsultationHandler) History(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return unauthenticated(c)
	}

	consultations, err := h.service.History(c.Context(), userID)
	if err != nil {
		return mapConsultationError(c, err)
	}

	return respond(c, fiber.StatusOK, "", consultations)
}

func (h *ConsultationHandler) Get(c *fiber.Ctx) error {
	return h.withConsultation(c, "", h.service.Get)
}

func (h *ConsultationHandler) Start(c *fiber.Ctx) error {
	return h.withConsultation(c, "Consultation started", h.service.Start)
}

func (h *ConsultationHandler) End(c *fiber.Ctx) error {
	return h.withConsultation(c, "Consultation ended", h.service.End)
}

func (h *ConsultationHandler) Cancel(c *fiber.Ctx) error {
	return h.withConsultation(c, "Consultation cancelled", h.service.Cancel)
}

func (h *ConsultationHandler) Rate(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return unauthenticated(c)
	}
	consultationID, ok := parseIDParam(c)
	if !ok {
		return badRequest(c, "Invalid consultation id")
	}

	var req rateConsultationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	consultation, err := h.service.Rate(c.Context(), userID, consultationID, services.RateConsultationInput{
		Stars:  req.Rating,
		Review: req.Review,
		Tags:   req.Tags,
	})
	if err != nil {
		return mapConsultationError(c, err)
	}

	return respond(c, fiber.StatusOK, "Rating submitted", consultation)
}

func (h *ConsultationHandler) Messages(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return unauthenticated(c)
	}
	consultationID, ok := parseIDParam(c)
	if !ok {
		return badRequest(c, "Invalid consultation id")
	}

	page, limit := parsePageParams(c)
	messages, total, err := h.service.Messages(c.Context(), userID, consultationID, page, limit)
	if err != nil {
		return mapConsultationError(c, err)
	}

	return respondPage(c, messages, buildPaginationMeta(page, limit, total))
}

type consultationAction func(ctx context.Context, actorID int64, id int64) (*models.Consultation, error)

func (h *ConsultationHandler) withConsultation(c *fiber.Ctx, message string, action consultationAction) error {
	userID, err := parseActorID(c)
	if err != nil {
		return unauthenticated(c)
	}
	consultationID, ok := parseIDParam(c)
	if !ok {
		return badRequest(c, "Invalid consultation id")
	}

	consultation, err := action(c.Context(), userID, consultationID)
	if err != nil {
		return mapConsultationError(c, err)
	}

	return respond(c, fiber.StatusOK, message, consultation)
}
