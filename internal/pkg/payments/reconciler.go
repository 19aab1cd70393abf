package payments

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"

	"github.com/seranking/paygate/app/models"
	"github.com/seranking/paygate/internal/pkg/access"
	"github.com/seranking/paygate/internal/pkg/apperr"
	"github.com/seranking/paygate/internal/pkg/security"
)

// HandleWebhook verifies, dedups and applies one provider event. The dedup row
// and every state change commit in one transaction, so a crash before commit
// leaves the event unrecorded and a redelivery replays it cleanly. The success
// postback fires only after commit.
func (s *Service) HandleWebhook(payload []byte, signature string) (*WebhookResult, error) {
	if signature == "" {
		return nil, apperr.Auth("Missing stripe-signature")
	}
	event, err := s.verifyEvent(payload, signature, s.cfg.StripeWebhookSecret)
	if err != nil {
		return nil, apperr.Auth("Invalid webhook signature").WithErr(err)
	}

	eventType := string(event.Type)
	log.Printf("stripe_webhook_received event_id=%s event_type=%s", event.ID, eventType)

	processResult := models.EventResultProcessed
	if _, handled := handledEventTypes[event.Type]; !handled {
		processResult = models.EventResultIgnored
	}

	duplicate := false
	postbackClickID := ""
	err = s.repo.Transaction(func(repo access.Repository) error {
		created, err := repo.CreatePaymentEventIfNew(&models.PaymentEvent{
			StripeEventID: event.ID,
			EventType:     eventType,
			PayloadJSON:   string(payload),
			ProcessResult: processResult,
		})
		if err != nil {
			return err
		}
		if !created {
			duplicate = true
			return nil
		}

		clickID, err := s.applyEvent(repo, &event)
		if err != nil {
			return err
		}
		postbackClickID = clickID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if duplicate {
		log.Printf("stripe_webhook_duplicate event_id=%s event_type=%s", event.ID, eventType)
		return &WebhookResult{OK: true, Duplicate: true}, nil
	}

	log.Printf("stripe_webhook_processed event_id=%s event_type=%s", event.ID, eventType)
	if postbackClickID != "" && s.postbacks != nil {
		s.postbacks.SendConversion(postbackClickID, s.subscriptionPayout())
	}
	return &WebhookResult{OK: true, Duplicate: false}, nil
}

// handledEventTypes mirrors the applyEvent dispatch; anything else is stored
// with an ignored result so replays and audits can tell the two apart.
var handledEventTypes = map[stripe.EventType]struct{}{
	"checkout.session.completed":    {},
	"checkout.session.expired":      {},
	"payment_intent.payment_failed": {},
	"invoice.paid":                  {},
	"invoice.payment_failed":        {},
	"customer.subscription.updated": {},
	"customer.subscription.deleted": {},
}

// applyEvent dispatches on the event type inside the webhook transaction and
// returns the click id to postback, if the event completed a purchase.
func (s *Service) applyEvent(repo access.Repository, event *stripe.Event) (string, error) {
	switch event.Type {
	case "checkout.session.completed":
		var session checkoutSessionObject
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return "", err
		}
		return s.onCheckoutSessionCompleted(repo, session)

	case "checkout.session.expired":
		var session checkoutSessionObject
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return "", err
		}
		return "", s.updateOrderStatusBySession(repo, session.ID, models.OrderStatusExpired)

	case "payment_intent.payment_failed":
		var intent paymentIntentObject
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return "", err
		}
		return "", s.updateOrderStatusByPaymentIntent(repo, intent.ID, models.OrderStatusFailed)

	case "invoice.paid":
		var invoice invoiceObject
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return "", err
		}
		order, err := s.findOrderBySubscription(repo, invoice.Subscription, invoice.Customer)
		if err != nil {
			return "", err
		}
		return "", s.applySubscriptionAccessUpdate(repo, order, subscriptionUpdate{
			paymentStatus: models.OrderStatusPaid,
			accessStatus:  models.AccessActive,
			bindingStatus: models.BindingStatusActive,
			periodEnd:     unixTime(invoice.firstPeriodEnd()),
		})

	case "invoice.payment_failed":
		var invoice invoiceObject
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return "", err
		}
		order, err := s.findOrderBySubscription(repo, invoice.Subscription, invoice.Customer)
		if err != nil {
			return "", err
		}
		periodEnd := unixTime(invoice.firstPeriodEnd())
		if periodEnd == nil && order != nil {
			periodEnd = order.CurrentPeriodEnd
		}
		update := subscriptionUpdate{
			paymentStatus: models.OrderStatusPastDue,
			accessStatus:  models.AccessExpired,
			bindingStatus: models.BindingStatusInactive,
			periodEnd:     unixTime(invoice.firstPeriodEnd()),
		}
		if s.graceWindowOpen(periodEnd) {
			update.accessStatus = models.AccessGracePeriod
			update.bindingStatus = models.BindingStatusActive
		}
		return "", s.applySubscriptionAccessUpdate(repo, order, update)

	case "customer.subscription.updated":
		var sub subscriptionObject
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return "", err
		}
		status := sub.Status
		if status == "" {
			status = models.OrderStatusActive
		}
		return "", s.updateOrderStatusBySubscription(repo, sub.ID, status, unixTime(sub.CurrentPeriodEnd))

	case "customer.subscription.deleted":
		var sub subscriptionObject
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return "", err
		}
		order, err := s.findOrderBySubscription(repo, sub.ID, sub.Customer)
		if err != nil {
			return "", err
		}
		return "", s.applySubscriptionAccessUpdate(repo, order, subscriptionUpdate{
			paymentStatus: models.OrderStatusCanceled,
			accessStatus:  models.AccessRevoked,
			bindingStatus: models.BindingStatusInactive,
			periodEnd:     unixTime(sub.CurrentPeriodEnd),
		})

	default:
		log.Printf("stripe_event_ignored event_type=%s", event.Type)
		return "", nil
	}
}

// onCheckoutSessionCompleted marks the order paid and fulfills it: issue or
// reuse the activation token, deliver it by email and (when a chat id exists)
// by direct message, and degrade the fulfillment status instead of failing
// when delivery misbehaves.
func (s *Service) onCheckoutSessionCompleted(repo access.Repository, session checkoutSessionObject) (string, error) {
	order, err := s.resolveCheckoutOrder(repo, session)
	if err != nil || order == nil {
		return "", err
	}

	order.Status = models.OrderStatusPaid
	if session.ID != "" {
		order.StripeSessionID = session.ID
	}
	if session.PaymentIntent != "" {
		order.StripePaymentIntentID = session.PaymentIntent
	}
	if session.Customer != "" {
		order.StripeCustomerID = session.Customer
	}
	if session.Subscription != "" {
		order.StripeSubscriptionID = session.Subscription
	}
	if periodEnd := unixTime(session.CurrentPeriodEnd); periodEnd != nil {
		order.CurrentPeriodEnd = periodEnd
	}

	token, err := access.IssueOrReuseToken(repo, order.ID)
	if err != nil {
		return "", err
	}
	tokenValue := security.MakeAccessToken(token.ID, s.cfg.AccessTokenSecret)
	activationLink := s.telegram.BuildDeepLink(tokenValue)

	emailOK := true
	if err := s.emails.SendAccessEmail(order.Email, order.ID, activationLink, order.Locale); err != nil {
		emailOK = false
		log.Printf("email_delivery_failed order_id=%s email=%s error=%v",
			order.ID, security.MaskEmail(order.Email), err)
	}

	telegramOK := true
	if order.TelegramChatID != "" {
		telegramOK = s.telegram.SendActivationMessage(order.TelegramChatID, tokenValue)
	}

	order.FulfillmentStatus = models.FulfillmentDone
	if !emailOK || !telegramOK {
		order.FulfillmentStatus = models.FulfillmentPartial
	}
	order.AccessStatus = models.AccessTokenIssued
	if err := repo.SaveOrder(order); err != nil {
		return "", err
	}

	log.Printf("checkout_session_completed order_id=%s session_id=%s clickid=%s fulfillment_status=%s access_status=%s",
		order.ID, order.StripeSessionID, order.ClickID, order.FulfillmentStatus, order.AccessStatus)
	return order.ClickID, nil
}

// resolveCheckoutOrder finds the order by its own id in the session metadata,
// falling back to the session id. A missing order is not an error: the event
// may belong to another environment sharing the provider account.
func (s *Service) resolveCheckoutOrder(repo access.Repository, session checkoutSessionObject) (*models.Order, error) {
	if orderID := session.Metadata["order_id"]; orderID != "" {
		order, err := repo.GetOrderByID(orderID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if session.ID != "" {
		order, err := repo.GetOrderBySessionID(session.ID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	log.Printf("checkout_session_order_not_found session_id=%s", session.ID)
	return nil, nil
}

func (s *Service) updateOrderStatusBySession(repo access.Repository, sessionID, status string) error {
	if sessionID == "" {
		return nil
	}
	order, err := repo.GetOrderBySessionID(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	order.Status = status
	return repo.SaveOrder(order)
}

func (s *Service) updateOrderStatusByPaymentIntent(repo access.Repository, paymentIntentID, status string) error {
	if paymentIntentID == "" {
		return nil
	}
	order, err := repo.GetOrderByPaymentIntentID(paymentIntentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	order.Status = status
	return repo.SaveOrder(order)
}

func (s *Service) updateOrderStatusBySubscription(repo access.Repository, subscriptionID, status string, periodEnd *time.Time) error {
	if subscriptionID == "" {
		return nil
	}
	order, err := repo.GetOrderBySubscriptionID(subscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	order.Status = status
	if periodEnd != nil {
		order.CurrentPeriodEnd = periodEnd
	}
	return repo.SaveOrder(order)
}

// findOrderBySubscription resolves by subscription id first, then falls back
// to the latest order of the customer (invoices early in a subscription can
// arrive before the session event recorded the subscription id).
func (s *Service) findOrderBySubscription(repo access.Repository, subscriptionID, customerID string) (*models.Order, error) {
	if subscriptionID != "" {
		order, err := repo.GetOrderBySubscriptionID(subscriptionID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if customerID != "" {
		order, err := repo.GetLatestOrderByCustomerID(customerID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

type subscriptionUpdate struct {
	paymentStatus string
	accessStatus  string
	bindingStatus string
	periodEnd     *time.Time
}

func (s *Service) applySubscriptionAccessUpdate(repo access.Repository, order *models.Order, update subscriptionUpdate) error {
	if order == nil {
		return nil
	}
	order.Status = update.paymentStatus
	if update.periodEnd != nil {
		order.CurrentPeriodEnd = update.periodEnd
	}
	order.AccessStatus = update.accessStatus
	if err := repo.SaveOrder(order); err != nil {
		return err
	}
	if update.bindingStatus != "" {
		return repo.SetBindingsStatus(order.ID, update.bindingStatus)
	}
	return nil
}

// graceWindowOpen reports whether now is still inside the configured grace
// period after a billing period end.
func (s *Service) graceWindowOpen(periodEnd *time.Time) bool {
	if periodEnd == nil {
		return false
	}
	return !s.now().After(periodEnd.Add(s.cfg.SubscriptionGracePeriod))
}

func (s *Service) subscriptionPayout() string {
	plan := s.cfg.SubscriptionPlan()
	return FormatAmountMinor(plan.AmountMinor, plan.Currency)
}
