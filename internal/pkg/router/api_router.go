package router

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/seranking/paygate/app/controllers"
	"github.com/seranking/paygate/internal/pkg/access"
	"github.com/seranking/paygate/internal/pkg/config"
	"github.com/seranking/paygate/internal/pkg/middleware"
	"github.com/seranking/paygate/internal/pkg/payments"
	"github.com/seranking/paygate/internal/pkg/postback"
)

type ApiRouter struct {
	cfg      *config.Config
	payment  *controllers.PaymentController
	bot      *controllers.BotController
	tracking *controllers.TrackingController
}

func NewApiRouter(cfg *config.Config, paymentsSvc *payments.Service, accessSvc *access.Service, postbacks *postback.Client) *ApiRouter {
	return &ApiRouter{
		cfg:      cfg,
		payment:  controllers.NewPaymentController(paymentsSvc, accessSvc),
		bot:      controllers.NewBotController(accessSvc),
		tracking: controllers.NewTrackingController(postbacks),
	}
}

func (h *ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max: 120,
		// Webhooks and the bot backend authenticate themselves; rate limiting
		// them only helps an attacker force provider redelivery. Only these
		// paths are exempt: an unauthenticated caller could otherwise skip the
		// limit on public routes just by attaching a bogus internal token.
		Next: func(c *fiber.Ctx) bool {
			return limiterExempt(c.Path())
		},
	}))

	api.Post("/payment/checkout-session", h.payment.HandleCreateCheckoutSession)
	api.Get("/payment/session-status", h.payment.HandleSessionStatus)
	api.Post("/payment/customer-portal", h.payment.HandleCustomerPortal)
	api.Get("/payment/redirect", h.payment.HandleLegacyPaymentRedirect)

	api.Post("/stripe/webhook", h.payment.HandleStripeWebhook)

	api.Post("/access/activate", h.payment.HandleActivateAccess)
	api.Post("/auth/restore/request", h.payment.HandleRestoreRequest)
	api.Post("/auth/restore/confirm", h.payment.HandleRestoreConfirm)

	// Both aliases point at the same relay; old funnel builds still call the
	// /events path.
	api.Post("/events/mobi-slon", h.tracking.HandleRelayEvent)
	api.Get("/events/mobi-slon", h.tracking.HandleRelayEventFallback)
	api.Post("/tracking/mobi-slon-event", h.tracking.HandleRelayEvent)
	api.Get("/tracking/mobi-slon-event", h.tracking.HandleRelayEventFallback)

	bot := api.Group("/bot", middleware.InternalTokenAuth(h.cfg))
	bot.Post("/access/status", h.bot.HandleAccessStatus)
	bot.Post("/access/activate", h.bot.HandleActivate)
	bot.Post("/restore/request", h.bot.HandleRestoreRequest)
	bot.Post("/restore/confirm", h.bot.HandleRestoreConfirm)
}

// limiterExempt reports whether a path bypasses the /api rate limit. The bot
// group enforces the internal token itself, the webhook its signature.
func limiterExempt(path string) bool {
	return path == "/api/stripe/webhook" || strings.HasPrefix(path, "/api/bot/")
}
