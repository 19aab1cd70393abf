package access

import (
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/seranking/paygate/app/models"
	"github.com/seranking/paygate/internal/pkg/apperr"
	"github.com/seranking/paygate/internal/pkg/config"
	"github.com/seranking/paygate/internal/pkg/notify"
	"github.com/seranking/paygate/internal/pkg/security"
)

// Service implements token activation, access-status lookup and the restore
// flow over the ledger repository.
type Service struct {
	cfg      *config.Config
	repo     Repository
	emails   notify.EmailSender
	telegram notify.TelegramNotifier
	now      func() time.Time
}

func NewService(cfg *config.Config, repo Repository, emails notify.EmailSender, telegram notify.TelegramNotifier) *Service {
	return &Service{
		cfg:      cfg,
		repo:     repo,
		emails:   emails,
		telegram: telegram,
		now:      time.Now,
	}
}

// NewServiceFromDB creates an access service from a GORM DB handle.
func NewServiceFromDB(cfg *config.Config, db *gorm.DB, emails notify.EmailSender, telegram notify.TelegramNotifier) *Service {
	return NewService(cfg, NewRepository(db), emails, telegram)
}

// Activate redeems an activation token for a Telegram user: the token flips
// to activated, the order's access goes active, and the (order, user) binding
// is created or reactivated.
func (s *Service) Activate(tokenString, telegramUserID string) (*ActivationResult, error) {
	tokenID := security.ParseAccessToken(tokenString, s.cfg.AccessTokenSecret)
	if tokenID == "" {
		log.Printf("activate_access_invalid_token user=%s token_len=%d token_preview=%s",
			telegramUserID, len(tokenString), security.PreviewToken(tokenString))
		return nil, apperr.Validation("Invalid activation token")
	}

	var result *ActivationResult
	err := s.repo.Transaction(func(repo Repository) error {
		res, err := s.activateLocked(repo, tokenID, telegramUserID)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("activate_access_success user=%s order_id=%s plan=%s",
		telegramUserID, result.OrderID, result.Plan)
	return result, nil
}

// activateLocked performs the activation inside an already-open transaction.
// The guarded token update makes the loser of a concurrent activation race
// observe the no-longer-issued state and fail like any stale token.
func (s *Service) activateLocked(repo Repository, tokenID, telegramUserID string) (*ActivationResult, error) {
	token, err := repo.GetAccessTokenByID(tokenID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("activate_access_token_not_issued user=%s token_id=%s token_exists=false",
				telegramUserID, tokenID)
			return nil, apperr.Conflict("Activation token is not active")
		}
		return nil, err
	}
	if token.Status != models.TokenStatusIssued {
		log.Printf("activate_access_token_not_issued user=%s token_id=%s token_status=%s",
			telegramUserID, tokenID, token.Status)
		return nil, apperr.Conflict("Activation token is not active")
	}

	order, err := repo.GetOrderByID(token.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("activate_access_order_not_found user=%s token_id=%s order_id=%s",
				telegramUserID, tokenID, token.OrderID)
			return nil, apperr.NotFound("Order not found")
		}
		return nil, err
	}

	activated, err := repo.MarkTokenActivated(token.ID, s.now())
	if err != nil {
		return nil, err
	}
	if !activated {
		return nil, apperr.Conflict("Activation token is not active")
	}

	order.AccessStatus = models.AccessActive
	if err := repo.SaveOrder(order); err != nil {
		return nil, err
	}

	binding, err := repo.GetBinding(order.ID, telegramUserID)
	switch {
	case err == nil:
		binding.Status = models.BindingStatusActive
		if err := repo.SaveBinding(binding); err != nil {
			return nil, err
		}
		log.Printf("activate_access_binding_reactivated user=%s order_id=%s", telegramUserID, order.ID)
	case errors.Is(err, gorm.ErrRecordNotFound):
		b := &models.AccessBinding{
			OrderID:        order.ID,
			TelegramUserID: telegramUserID,
			Status:         models.BindingStatusActive,
		}
		if err := repo.CreateBinding(b); err != nil {
			return nil, err
		}
		log.Printf("activate_access_binding_created user=%s order_id=%s", telegramUserID, order.ID)
	default:
		return nil, err
	}

	return &ActivationResult{
		AccessGranted: true,
		OrderID:       order.ID,
		Plan:          order.Plan,
		Status:        order.Status,
	}, nil
}

// AccessStatusByTelegramUser resolves a user's access through the ordered
// fallback chain: active binding, then any binding, then orders whose original
// chat id matches (so a buyer can query before redeeming a token).
func (s *Service) AccessStatusByTelegramUser(telegramUserID string) (*AccessStatus, error) {
	binding, err := s.repo.GetLatestActiveBindingByUser(telegramUserID)
	if err == nil {
		order, err := s.repo.GetOrderByID(binding.OrderID)
		if err == nil {
			return &AccessStatus{
				IsPaid:       order.IsPaid(),
				OrderID:      order.ID,
				Plan:         order.Plan,
				AccessStatus: order.AccessStatus,
			}, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	binding, err = s.repo.GetLatestBindingByUser(telegramUserID)
	if err == nil {
		order, err := s.repo.GetOrderByID(binding.OrderID)
		if err == nil {
			return &AccessStatus{
				IsPaid:       false,
				OrderID:      order.ID,
				Plan:         order.Plan,
				AccessStatus: order.AccessStatus,
			}, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	order, err := s.repo.GetLatestOrderByChatID(telegramUserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &AccessStatus{IsPaid: false}, nil
		}
		return nil, err
	}
	return &AccessStatus{
		IsPaid:       order.IsPaid(),
		OrderID:      order.ID,
		Plan:         order.Plan,
		AccessStatus: order.AccessStatus,
	}, nil
}

// RestoreRequest issues a one-time restore code for an email, rate-limited
// per trailing hour. The code itself is only delivered out-of-band.
func (s *Service) RestoreRequest(email string) error {
	now := s.now()
	count, err := s.repo.CountRestoreCredentialsSince(email, now.Add(-time.Hour))
	if err != nil {
		return err
	}
	if count >= int64(s.cfg.RestoreRateLimitPerHour) {
		return apperr.RateLimited("Too many restore requests")
	}

	otp, err := security.GenerateOTP()
	if err != nil {
		return err
	}
	rc := &models.RestoreCredential{
		Email:       email,
		CodeHash:    security.HashValue(otp),
		MaxAttempts: models.RestoreMaxAttempts,
		ExpiresAt:   now.Add(s.cfg.OTPTTL),
	}
	if err := s.repo.CreateRestoreCredential(rc); err != nil {
		return err
	}

	locale := "en"
	if order, err := s.repo.GetLatestOrderByEmail(email); err == nil {
		locale = order.Locale
	}

	if err := s.emails.SendOTP(email, otp, s.cfg.LogOTPInNonprod, locale); err != nil {
		log.Printf("otp_delivery_failed email=%s error=%v", security.MaskEmail(email), err)
		return apperr.Upstream("Failed to send OTP email").WithErr(err)
	}
	return nil
}

// RestoreConfirm verifies a restore code, rotates the order's activation
// token, and, when a Telegram user id is supplied, activates immediately.
func (s *Service) RestoreConfirm(email, otp, telegramUserID string) (*RestoreResult, error) {
	rc, err := s.repo.GetLatestUnusedRestoreCredential(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Conflict("No restore request found")
		}
		return nil, err
	}

	now := s.now()
	if !rc.Usable(now) {
		if rc.Attempts >= rc.MaxAttempts {
			return nil, apperr.Conflict("OTP attempts exceeded")
		}
		return nil, apperr.Conflict("OTP expired")
	}
	if rc.CodeHash != security.HashValue(otp) {
		rc.Attempts++
		if err := s.repo.SaveRestoreCredential(rc); err != nil {
			return nil, err
		}
		return nil, apperr.Conflict("Invalid OTP")
	}

	var result *RestoreResult
	err = s.repo.Transaction(func(repo Repository) error {
		usedAt := now
		rc.UsedAt = &usedAt
		if err := repo.SaveRestoreCredential(rc); err != nil {
			return err
		}

		order, err := repo.GetLatestOrderByEmail(email)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("No paid order found")
			}
			return err
		}
		if order.Status != models.OrderStatusPaid && order.Status != models.OrderStatusActive {
			return apperr.NotFound("No paid order found")
		}

		token, err := RotateToken(repo, order.ID, models.RevokedReasonRestoreRotation, now)
		if err != nil {
			return err
		}

		tokenValue := security.MakeAccessToken(token.ID, s.cfg.AccessTokenSecret)
		activationLink := s.telegram.BuildDeepLink(tokenValue)

		granted := false
		if telegramUserID != "" {
			if _, err := s.activateLocked(repo, token.ID, telegramUserID); err != nil {
				return err
			}
			granted = true
		}

		result = &RestoreResult{
			Status:         "restored",
			ActivationLink: activationLink,
			AccessGranted:  granted,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("restore_confirm_success email=%s access_granted=%t",
		security.MaskEmail(email), result.AccessGranted)
	return result, nil
}
