package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/seranking/paygate/internal/pkg/access"
	"github.com/seranking/paygate/internal/pkg/apperr"
	"github.com/seranking/paygate/internal/pkg/payments"
)

// PaymentController exposes the buyer-facing payment and access endpoints.
type PaymentController struct {
	payments *payments.Service
	access   *access.Service
}

func NewPaymentController(paymentsSvc *payments.Service, accessSvc *access.Service) *PaymentController {
	return &PaymentController{payments: paymentsSvc, access: accessSvc}
}

type checkoutSessionRequest struct {
	Mode           string `json:"mode" validate:"required,oneof=one_time subscription"`
	Plan           string `json:"plan" validate:"required"`
	Email          string `json:"email" validate:"required,email"`
	ClickID        string `json:"clickid" validate:"required"`
	Locale         string `json:"locale"`
	TelegramChatID string `json:"telegram_chat_id"`
}

func (ctrl *PaymentController) HandleCreateCheckoutSession(c *fiber.Ctx) error {
	var req checkoutSessionRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	result, err := ctrl.payments.CreateCheckoutSession(req.Mode, req.Plan, req.Email,
		req.ClickID, req.Locale, req.TelegramChatID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

// HandleStripeWebhook accepts signed provider events. Returning any non-2xx
// makes the provider redeliver, which is exactly what a transient processing
// failure wants.
func (ctrl *PaymentController) HandleStripeWebhook(c *fiber.Ctx) error {
	result, err := ctrl.payments.HandleWebhook(c.Body(), c.Get("Stripe-Signature"))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

func (ctrl *PaymentController) HandleSessionStatus(c *fiber.Ctx) error {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		return respondError(c, apperr.Validation("session_id is required"))
	}
	status, err := ctrl.payments.SessionStatus(sessionID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(status)
}

type customerPortalRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (ctrl *PaymentController) HandleCustomerPortal(c *fiber.Ctx) error {
	var req customerPortalRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	portalURL, err := ctrl.payments.CreateCustomerPortal(req.Email)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"portal_url": portalURL})
}

type activateAccessRequest struct {
	ActivationToken string `json:"activation_token" validate:"required"`
	TelegramUserID  string `json:"telegram_user_id" validate:"required"`
}

func (ctrl *PaymentController) HandleActivateAccess(c *fiber.Ctx) error {
	var req activateAccessRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	result, err := ctrl.access.Activate(req.ActivationToken, req.TelegramUserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

type restoreRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (ctrl *PaymentController) HandleRestoreRequest(c *fiber.Ctx) error {
	var req restoreRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	if err := ctrl.access.RestoreRequest(req.Email); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "otp_sent"})
}

type restoreConfirmRequest struct {
	Email          string `json:"email" validate:"required,email"`
	OTP            string `json:"otp" validate:"required"`
	TelegramUserID string `json:"telegram_user_id"`
}

func (ctrl *PaymentController) HandleRestoreConfirm(c *fiber.Ctx) error {
	var req restoreConfirmRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	result, err := ctrl.access.RestoreConfirm(req.Email, req.OTP, req.TelegramUserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

// HandleLegacyPaymentRedirect keeps the retired GET entrypoint mapped so old
// funnels fail loudly instead of 404ing.
func (ctrl *PaymentController) HandleLegacyPaymentRedirect(c *fiber.Ctx) error {
	return c.Status(fiber.StatusGone).JSON(fiber.Map{
		"error":   "gone",
		"message": "Endpoint moved to POST /api/payment/checkout-session",
	})
}
