package controllers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/seranking/paygate/internal/pkg/access"
	"github.com/seranking/paygate/internal/pkg/security"
)

// BotController serves the Telegram bot backend. Every route sits behind the
// internal-token middleware; the bot is trusted to assert Telegram user ids.
type BotController struct {
	access *access.Service
}

func NewBotController(accessSvc *access.Service) *BotController {
	return &BotController{access: accessSvc}
}

type botAccessStatusRequest struct {
	TelegramUserID string `json:"telegram_user_id" validate:"required"`
}

func (ctrl *BotController) HandleAccessStatus(c *fiber.Ctx) error {
	var req botAccessStatusRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	status, err := ctrl.access.AccessStatusByTelegramUser(req.TelegramUserID)
	if err != nil {
		return respondError(c, err)
	}
	log.Printf("bot_access_check telegram_user_id=%s is_paid=%t", req.TelegramUserID, status.IsPaid)
	return c.Status(fiber.StatusOK).JSON(status)
}

type botActivateRequest struct {
	TelegramUserID  string `json:"telegram_user_id" validate:"required"`
	ActivationToken string `json:"activation_token" validate:"required"`
}

func (ctrl *BotController) HandleActivate(c *fiber.Ctx) error {
	var req botActivateRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	log.Printf("bot_activation_attempt telegram_user_id=%s token_len=%d token_preview=%s",
		req.TelegramUserID, len(req.ActivationToken), security.PreviewToken(req.ActivationToken))
	result, err := ctrl.access.Activate(req.ActivationToken, req.TelegramUserID)
	if err != nil {
		return respondError(c, err)
	}
	log.Printf("bot_activation_result telegram_user_id=%s access_granted=%t order_id=%s",
		req.TelegramUserID, result.AccessGranted, result.OrderID)
	return c.Status(fiber.StatusOK).JSON(result)
}

func (ctrl *BotController) HandleRestoreRequest(c *fiber.Ctx) error {
	var req restoreRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	log.Printf("bot_restore_request email=%s", security.MaskEmail(req.Email))
	if err := ctrl.access.RestoreRequest(req.Email); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "otp_sent"})
}

func (ctrl *BotController) HandleRestoreConfirm(c *fiber.Ctx) error {
	var req restoreConfirmRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	log.Printf("bot_restore_confirm email=%s", security.MaskEmail(req.Email))
	result, err := ctrl.access.RestoreConfirm(req.Email, req.OTP, req.TelegramUserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}
