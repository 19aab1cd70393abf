package payments

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	bpsession "github.com/stripe/stripe-go/v82/billingportal/session"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"

	"github.com/seranking/paygate/app/models"
	"github.com/seranking/paygate/internal/pkg/access"
	"github.com/seranking/paygate/internal/pkg/apperr"
	"github.com/seranking/paygate/internal/pkg/config"
	"github.com/seranking/paygate/internal/pkg/notify"
	"github.com/seranking/paygate/internal/pkg/postback"
	"github.com/seranking/paygate/internal/pkg/security"
)

const checkoutSessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

// CheckoutResult is the outcome of creating a hosted checkout session.
type CheckoutResult struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
	OrderID     string `json:"order_id"`
}

// SessionStatus mirrors the order state for the post-checkout success page.
type SessionStatus struct {
	PaymentStatus     string `json:"payment_status"`
	FulfillmentStatus string `json:"fulfillment_status"`
	AccessStatus      string `json:"access_status"`
	ActivationLink    string `json:"activation_link,omitempty"`
}

// WebhookResult is returned to the provider; any 2xx stops redelivery.
type WebhookResult struct {
	OK        bool `json:"ok"`
	Duplicate bool `json:"duplicate"`
}

// Service owns checkout creation, the webhook reconciler and the customer
// portal. Stripe calls go through function fields so tests can stub the
// provider without network access.
type Service struct {
	cfg       *config.Config
	repo      access.Repository
	emails    notify.EmailSender
	telegram  notify.TelegramNotifier
	postbacks *postback.Client

	createCheckoutSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	createPortalSession   func(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
	verifyEvent           func(payload []byte, sigHeader, secret string) (stripe.Event, error)

	now func() time.Time
}

func NewService(cfg *config.Config, repo access.Repository, emails notify.EmailSender, telegram notify.TelegramNotifier, postbacks *postback.Client) *Service {
	stripe.Key = cfg.StripeSecretKey
	return &Service{
		cfg:                   cfg,
		repo:                  repo,
		emails:                emails,
		telegram:              telegram,
		postbacks:             postbacks,
		createCheckoutSession: stripesession.New,
		createPortalSession:   bpsession.New,
		verifyEvent: func(payload []byte, sigHeader, secret string) (stripe.Event, error) {
			return webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
				IgnoreAPIVersionMismatch: true,
			})
		},
		now: time.Now,
	}
}

// NewServiceFromDB creates a payment service from a GORM DB handle.
func NewServiceFromDB(cfg *config.Config, db *gorm.DB, emails notify.EmailSender, telegram notify.TelegramNotifier, postbacks *postback.Client) *Service {
	return NewService(cfg, access.NewRepository(db), emails, telegram, postbacks)
}

// CreateCheckoutSession persists a new order and opens a hosted checkout for
// it. The order only survives if the provider call succeeds; a provider
// failure rolls the order back so retries start clean.
func (s *Service) CreateCheckoutSession(mode, plan, email, clickID, locale, telegramChatID string) (*CheckoutResult, error) {
	orderClickID := postback.SanitizeClickID(clickID)
	if orderClickID == "" {
		return nil, apperr.Validation("Invalid clickid")
	}

	planCfg, ok := s.cfg.Plan(plan)
	if !ok {
		return nil, apperr.Validation("Unknown plan")
	}
	if mode == models.OrderModeSubscription && !planCfg.Recurring() {
		return nil, apperr.Validation("Plan does not support subscription")
	}
	if mode == models.OrderModeOneTime && planCfg.Recurring() {
		return nil, apperr.Validation("Plan is subscription-only")
	}

	var result *CheckoutResult
	err := s.repo.Transaction(func(repo access.Repository) error {
		order := &models.Order{
			Email:          email,
			ClickID:        orderClickID,
			TelegramChatID: telegramChatID,
			Mode:           mode,
			Plan:           plan,
			Locale:         normalizeLocale(locale),
			AmountMinor:    planCfg.AmountMinor,
			Currency:       planCfg.Currency,
			Status:         models.OrderStatusCreated,
		}
		if err := repo.CreateOrder(order); err != nil {
			return err
		}

		session, err := s.createCheckoutSession(s.checkoutParams(order, planCfg))
		if err != nil {
			return apperr.Upstream(fmt.Sprintf("Stripe error: %v", err)).WithErr(err)
		}
		if session == nil || session.URL == "" {
			return apperr.Upstream("Stripe did not return checkout URL")
		}

		order.StripeSessionID = session.ID
		order.Status = models.OrderStatusSessionCreated
		if err := repo.SaveOrder(order); err != nil {
			return err
		}

		result = &CheckoutResult{CheckoutURL: session.URL, SessionID: session.ID, OrderID: order.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("checkout_session_created order_id=%s session_id=%s plan=%s mode=%s",
		result.OrderID, result.SessionID, plan, mode)
	return result, nil
}

func (s *Service) checkoutParams(order *models.Order, planCfg config.PlanConfig) *stripe.CheckoutSessionParams {
	priceData := &stripe.CheckoutSessionLineItemPriceDataParams{
		Currency:   stripe.String(planCfg.Currency),
		UnitAmount: stripe.Int64(planCfg.AmountMinor),
		ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(planCfg.ProductName),
		},
	}
	stripeMode := stripe.CheckoutSessionModePayment
	if order.Mode == models.OrderModeSubscription {
		stripeMode = stripe.CheckoutSessionModeSubscription
		priceData.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
			Interval: stripe.String(planCfg.Interval),
		}
	}

	return &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripeMode)),
		SuccessURL:    stripe.String(s.buildSuccessURL()),
		CancelURL:     stripe.String(s.cfg.PayCancelURL),
		CustomerEmail: stripe.String(order.Email),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{PriceData: priceData, Quantity: stripe.Int64(1)},
		},
		Metadata: map[string]string{
			"order_id": order.ID,
			"clickid":  order.ClickID,
			"plan":     order.Plan,
			"mode":     order.Mode,
			"email":    order.Email,
		},
	}
}

// buildSuccessURL appends the provider's session-id placeholder so the success
// page can poll SessionStatus.
func (s *Service) buildSuccessURL() string {
	successURL := s.cfg.PaySuccessURL
	if strings.Contains(successURL, "?") {
		return successURL + "&session_id=" + checkoutSessionIDPlaceholder
	}
	return successURL + "?session_id=" + checkoutSessionIDPlaceholder
}

// SessionStatus reports order progress for a checkout session, including the
// activation deep link once a token has been issued.
func (s *Service) SessionStatus(sessionID string) (*SessionStatus, error) {
	order, err := s.repo.GetOrderBySessionID(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Session not found")
		}
		return nil, err
	}

	activationLink := ""
	if token, err := s.repo.GetLatestIssuedToken(order.ID); err == nil {
		tokenValue := security.MakeAccessToken(token.ID, s.cfg.AccessTokenSecret)
		activationLink = s.telegram.BuildDeepLink(tokenValue)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	return &SessionStatus{
		PaymentStatus:     order.Status,
		FulfillmentStatus: order.FulfillmentStatus,
		AccessStatus:      order.AccessStatus,
		ActivationLink:    activationLink,
	}, nil
}

// CreateCustomerPortal opens a provider-hosted billing portal for the latest
// order of an email that carries a customer id.
func (s *Service) CreateCustomerPortal(email string) (string, error) {
	order, err := s.repo.GetLatestOrderWithCustomerByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", apperr.NotFound("No stripe customer found")
		}
		return "", err
	}

	session, err := s.createPortalSession(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(order.StripeCustomerID),
		ReturnURL: stripe.String(s.cfg.PayPortalReturnURL),
	})
	if err != nil {
		return "", apperr.Upstream(fmt.Sprintf("Stripe error: %v", err)).WithErr(err)
	}
	return session.URL, nil
}

func normalizeLocale(locale string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(locale)), "ru") {
		return "ru"
	}
	return "en"
}
