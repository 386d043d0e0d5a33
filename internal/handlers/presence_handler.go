package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	relayws "github.com/saeid-a/ConsultBack/internal/websocket"
)

type PresenceHandler struct {
	presence presenceReader
}

type presenceReader interface {
	IsOnline(ctx context.Context, userID int64) (bool, error)
	OnlineUsers(ctx context.Context) ([]int64, error)
}

type presenceStatus struct {
	UserID int64 `json:"user_id"`
	Online bool  `json:"online"`
}

func NewPresenceHandler(hub *relayws.Hub) *PresenceHandler {
	return &PresenceHandler{presence: hub}
}

// ListOnline returns a snapshot of connected identities for clients that
// missed the user:online events sent before they connected.
func (h *PresenceHandler) ListOnline(c *fiber.Ctx) error {
	if _, err := parseActorID(c); err != nil {
		return unauthenticated(c)
	}

	userIDs, err := h.presence.OnlineUsers(c.Context())
	if err != nil {
		return mapConsultationError(c, err)
	}

	return respond(c, fiber.StatusOK, "", fiber.Map{"user_ids": userIDs})
}

func (h *PresenceHandler) GetStatus(c *fiber.Ctx) error {
	if _, err := parseActorID(c); err != nil {
		return unauthenticated(c)
	}
	userID, ok := parseIDParam(c)
	if !ok {
		return badRequest(c, "Invalid user id")
	}

	online, err := h.presence.IsOnline(c.Context(), userID)
	if err != nil {
		return mapConsultationError(c, err)
	}

	return respond(c, fiber.StatusOK, "", presenceStatus{UserID: userID, Online: online})
}
