package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/ConsultBack/internal/models"
	"github.com/saeid-a/ConsultBack/internal/services"
)

type WalletHandler struct {
	service walletApplicationService
}

type walletApplicationService interface {
	Get(ctx context.Context, userID int64) (*models.Wallet, error)
	Transactions(ctx context.Context, userID int64, page int, limit int) ([]models.LedgerEntry, int, error)
}

func NewWalletHandler(service *services.WalletService) *WalletHandler {
	return &WalletHandler{service: service}
}

func (h *WalletHandler) GetWallet(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return unauthenticated(c)
	}

	wallet, err := h.service.Get(c.Context(), userID)
	if err != nil {
		return mapConsultationError(c, err)
	}

	return respond(c, fiber.StatusOK, "", wallet)
}

func (h *WalletHandler) ListTransactions(c *fiber.Ctx) error {
	userID, err := parseActorID(c)
	if err != nil {
		return unauthenticated(c)
	}

	page, limit := parsePageParams(c)
	entries, total, err := h.service.Transactions(c.Context(), userID, page, limit)
	if err != nil {
		return mapConsultationError(c, err)
	}

	return respondPage(c, entries, buildPaginationMeta(page, limit, total))
}
