package routes

import (
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/saeid-a/ConsultBack/internal/config"
	"github.com/saeid-a/ConsultBack/internal/handlers"
	"github.com/saeid-a/ConsultBack/internal/middleware"
	"github.com/saeid-a/ConsultBack/internal/services"
	relayws "github.com/saeid-a/ConsultBack/internal/websocket"
)

type Dependencies struct {
	Consultations *services.ConsultationService
	Wallets       *services.WalletService
	Hub           *relayws.Hub
	// Gatherer backs /metrics; nil leaves the endpoint out.
	Gatherer prometheus.Gatherer
}

func RegisterRoutes(app *fiber.App, cfg *config.Config, deps Dependencies) {
	consultationHandler := handlers.NewConsultationHandler(deps.Consultations)
	walletHandler := handlers.NewWalletHandler(deps.Wallets)
	realtimeHandler := handlers.NewRealtimeHandler(deps.Hub, cfg.JWTSecret)
	presenceHandler := handlers.NewPresenceHandler(deps.Hub)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})
	if deps.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api")

	// The socket authenticates with a query token, so it is registered ahead
	// of the bearer-protected group.
	api.Use("/v1/ws", realtimeHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(realtimeHandler.HandleWebSocket))

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	consultations := authProtected.Group("/consultations")
	consultations.Post("", consultationHandler.Create)
	consultations.Get("", consultationHandler.List)
	consultations.Get("/history", consultationHandler.History)
	consultations.Get("/:id", consultationHandler.Get)
	consultations.Put("/:id/start", consultationHandler.Start)
	consultations.Put("/:id/end", consultationHandler.End)
	consultations.Put("/:id/cancel", consultationHandler.Cancel)
	consultations.Post("/:id/rating", consultationHandler.Rate)
	consultations.Get("/:id/messages", consultationHandler.Messages)

	wallet := authProtected.Group("/wallet")
	wallet.Get("", walletHandler.GetWallet)
	wallet.Get("/transactions", walletHandler.ListTransactions)

	presence := authProtected.Group("/presence")
	presence.Get("", presenceHandler.ListOnline)
	presence.Get("/:id", presenceHandler.GetStatus)
}
