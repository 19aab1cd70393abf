package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"github.com/seranking/paygate/app/models"
	"github.com/seranking/paygate/internal/pkg/apperr"
	"github.com/seranking/paygate/internal/pkg/postback"
)

func stubEvent(svc *Service, id, eventType string, object interface{}) {
	raw, _ := json.Marshal(object)
	svc.verifyEvent = func(payload []byte, sigHeader, secret string) (stripe.Event, error) {
		return stripe.Event{
			ID:   id,
			Type: stripe.EventType(eventType),
			Data: &stripe.EventData{Raw: raw},
		}, nil
	}
}

func handle(t *testing.T, svc *Service) *WebhookResult {
	t.Helper()
	result, err := svc.HandleWebhook([]byte("{}"), "sig")
	require.NoError(t, err)
	return result
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	svc, repo, _, _ := newTestService(t)

	_, err := svc.HandleWebhook([]byte("{}"), "")
	require.Error(t, err)
	assert.Equal(t, apperr.KindAuth, apperr.KindOf(err))

	svc.verifyEvent = func(payload []byte, sigHeader, secret string) (stripe.Event, error) {
		return stripe.Event{}, errors.New("signature mismatch")
	}
	_, err = svc.HandleWebhook([]byte("{}"), "t=1,v1=bad")
	require.Error(t, err)
	assert.Equal(t, apperr.KindAuth, apperr.KindOf(err))
	assert.Empty(t, repo.Events, "rejected events must leave no dedup row")
}

func TestCheckoutSessionCompletedFulfillsOrder(t *testing.T) {
	svc, repo, emails, telegram := newTestService(t)
	repo.Orders = append(repo.Orders, models.Order{
		ID:              "ord-1",
		Email:           "buyer@example.com",
		ClickID:         "click-1",
		TelegramChatID:  "555",
		Locale:          "en",
		Status:          models.OrderStatusSessionCreated,
		StripeSessionID: "cs_1",
	})

	stubEvent(svc, "evt_1", "checkout.session.completed", map[string]interface{}{
		"id":             "cs_1",
		"payment_intent": "pi_1",
		"customer":       "cus_1",
		"metadata":       map[string]string{"order_id": "ord-1"},
	})
	result := handle(t, svc)
	assert.False(t, result.Duplicate)

	order := repo.Orders[0]
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	assert.Equal(t, "pi_1", order.StripePaymentIntentID)
	assert.Equal(t, "cus_1", order.StripeCustomerID)
	assert.Equal(t, models.FulfillmentDone, order.FulfillmentStatus)
	assert.Equal(t, models.AccessTokenIssued, order.AccessStatus)

	require.Len(t, repo.Tokens, 1)
	assert.Equal(t, models.TokenStatusIssued, repo.Tokens[0].Status)
	assert.Equal(t, []string{"buyer@example.com"}, emails.accessEmails)
	assert.Equal(t, []string{"555"}, telegram.sentChats)
	require.Len(t, repo.Events, 1)
	assert.Equal(t, "evt_1", repo.Events[0].StripeEventID)
}

func TestCheckoutSessionCompletedPartialFulfillment(t *testing.T) {
	svc, repo, emails, _ := newTestService(t)
	emails.failAccess = true
	repo.Orders = append(repo.Orders, models.Order{
		ID: "ord-1", Email: "buyer@example.com", StripeSessionID: "cs_1",
	})

	stubEvent(svc, "evt_1", "checkout.session.completed", map[string]interface{}{
		"id": "cs_1",
	})
	handle(t, svc)

	order := repo.Orders[0]
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	assert.Equal(t, models.FulfillmentPartial, order.FulfillmentStatus)
	assert.Equal(t, models.AccessTokenIssued, order.AccessStatus)
	assert.Len(t, repo.Tokens, 1, "delivery failure must not block token issuance")
}

func TestDuplicateEventReplaysNothing(t *testing.T) {
	svc, repo, emails, _ := newTestService(t)
	repo.Orders = append(repo.Orders, models.Order{
		ID: "ord-1", Email: "buyer@example.com", StripeSessionID: "cs_1",
	})
	stubEvent(svc, "evt_1", "checkout.session.completed", map[string]interface{}{
		"id": "cs_1",
	})

	first := handle(t, svc)
	second := handle(t, svc)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Len(t, repo.Tokens, 1, "redelivery must not mint a second token")
	assert.Len(t, emails.accessEmails, 1, "redelivery must not resend mail")
	assert.Len(t, repo.Events, 1)
}

func TestCheckoutCompletedReusesIssuedToken(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	repo.Orders = append(repo.Orders, models.Order{
		ID: "ord-1", Email: "buyer@example.com", StripeSessionID: "cs_1",
	})
	repo.Tokens = append(repo.Tokens, models.AccessToken{
		ID: "tok-1", OrderID: "ord-1", Status: models.TokenStatusIssued,
	})

	stubEvent(svc, "evt_2", "checkout.session.completed", map[string]interface{}{
		"id": "cs_1",
	})
	handle(t, svc)

	assert.Len(t, repo.Tokens, 1, "an order with an issued token reuses it")
}

func TestCheckoutSessionCompletedUnknownOrderIsNoop(t *testing.T) {
	svc, repo, emails, _ := newTestService(t)

	stubEvent(svc, "evt_1", "checkout.session.completed", map[string]interface{}{
		"id": "cs_unknown",
	})
	result := handle(t, svc)

	assert.False(t, result.Duplicate)
	assert.Empty(t, repo.Tokens)
	assert.Empty(t, emails.accessEmails)
	assert.Len(t, repo.Events, 1, "unknown orders still consume the event id")
}

func TestCheckoutSessionExpired(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	repo.Orders = append(repo.Orders, models.Order{
		ID: "ord-1", StripeSessionID: "cs_1", Status: models.OrderStatusSessionCreated,
	})

	stubEvent(svc, "evt_1", "checkout.session.expired", map[string]interface{}{"id": "cs_1"})
	handle(t, svc)

	assert.Equal(t, models.OrderStatusExpired, repo.Orders[0].Status)
}

func TestPaymentIntentFailed(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	repo.Orders = append(repo.Orders, models.Order{
		ID: "ord-1", StripePaymentIntentID: "pi_1", Status: models.OrderStatusSessionCreated,
	})

	stubEvent(svc, "evt_1", "payment_intent.payment_failed", map[string]interface{}{"id": "pi_1"})
	handle(t, svc)

	assert.Equal(t, models.OrderStatusFailed, repo.Orders[0].Status)
}

func invoicePayload(subscription, customer string, periodEnd int64) map[string]interface{} {
	return map[string]interface{}{
		"subscription": subscription,
		"customer":     customer,
		"lines": map[string]interface{}{
			"data": []map[string]interface{}{
				{"period": map[string]int64{"end": periodEnd}},
			},
		},
	}
}

func TestInvoicePaidRenewsAccess(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	periodEnd := time.Now().Add(30 * 24 * time.Hour).Unix()
	repo.Orders = append(repo.Orders, models.Order{
		ID: "ord-1", StripeSubscriptionID: "sub_1", Status: models.OrderStatusPastDue,
		AccessStatus: models.AccessGracePeriod,
	})
	repo.Bindings = append(repo.Bindings, models.AccessBinding{
		ID: "b-1", OrderID: "ord-1", TelegramUserID: "555", Status: models.BindingStatusInactive,
	})

	stubEvent(svc, "evt_1", "invoice.paid", invoicePayload("sub_1", "cus_1", periodEnd))
	handle(t, svc)

	order := repo.Orders[0]
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	assert.Equal(t, models.AccessActive, order.AccessStatus)
	require.NotNil(t, order.CurrentPeriodEnd)
	assert.Equal(t, periodEnd, order.CurrentPeriodEnd.Unix())
	assert.Equal(t, models.BindingStatusActive, repo.Bindings[0].Status)
}

func TestInvoicePaidFallsBackToCustomerLookup(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	repo.Orders = append(repo.Orders, models.Order{
		ID: "ord-1", StripeCustomerID: "cus_1", Status: models.OrderStatusSessionCreated,
	})

	stubEvent(svc, "evt_1", "invoice.paid", invoicePayload("", "cus_1", 0))
	handle(t, svc)

	assert.Equal(t, models.OrderStatusPaid, repo.Orders[0].Status)
	assert.Equal(t, models.AccessActive, repo.Orders[0].AccessStatus)
}

func TestInvoicePaymentFailedInsideGrace(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	now := time.Now()
	svc.now = func() time.Time { return now }
	periodEnd := now.Add(-24 * time.Hour).Unix() // grace period is 72h in testConfig

	repo.Orders = append(repo.Orders, models.Order{
		ID: "ord-1", StripeSubscriptionID: "sub_1", Status: models.OrderStatusPaid,
		AccessStatus: models.AccessActive,
	})
	repo.Bindings = append(repo.Bindings, models.AccessBinding{
		ID: "b-1", OrderID: "ord-1", TelegramUserID: "555", Status: models.BindingStatusActive,
	})

	stubEvent(svc, "evt_1", "invoice.payment_failed", invoicePayload("sub_1", "cus_1", periodEnd))
	handle(t, svc)

	order := repo.Orders[0]
	assert.Equal(t, models.OrderStatusPastDue, order.Status)
	assert.Equal(t, models.AccessGracePeriod, order.AccessStatus)
	assert.Equal(t, models.BindingStatusActive, repo.Bindings[0].Status)
}

func TestInvoicePaymentFailedOutsideGrace(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	now := time.Now()
	svc.now = func() time.Time { return now }
	periodEnd := now.Add(-30 * 24 * time.Hour).Unix()

	repo.Orders = append(repo.Orders, models.Order{
		ID: "ord-1", StripeSubscriptionID: "sub_1", Status: models.OrderStatusPaid,
		AccessStatus: models.AccessActive,
	})
	repo.Bindings = append(repo.Bindings, models.AccessBinding{
		ID: "b-1", OrderID: "ord-1", TelegramUserID: "555", Status: models.BindingStatusActive,
	})

	stubEvent(svc, "evt_1", "invoice.payment_failed", invoicePayload("sub_1", "cus_1", periodEnd))
	handle(t, svc)

	order := repo.Orders[0]
	assert.Equal(t, models.OrderStatusPastDue, order.Status)
	assert.Equal(t, models.AccessExpired, order.AccessStatus)
	assert.Equal(t, models.BindingStatusInactive, repo.Bindings[0].Status)
}

func TestInvoicePaymentFailedUsesStoredPeriodEnd(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	now := time.Now()
	svc.now = func() time.Time { return now }
	stored := now.Add(-24 * time.Hour)

	repo.Orders = append(repo.Orders, models.Order{
		ID: "ord-1", StripeSubscriptionID: "sub_1", Status: models.OrderStatusPaid,
		AccessStatus: models.AccessActive, CurrentPeriodEnd: &stored,
	})

	stubEvent(svc, "evt_1", "invoice.payment_failed", invoicePayload("sub_1", "cus_1", 0))
	handle(t, svc)

	assert.Equal(t, models.AccessGracePeriod, repo.Orders[0].AccessStatus,
		"missing invoice period falls back to the stored period end")
}

func TestSubscriptionUpdatedWritesProviderStatus(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	periodEnd := time.Now().Add(30 * 24 * time.Hour).Unix()
	repo.Orders = append(repo.Orders, models.Order{
		ID: "ord-1", StripeSubscriptionID: "sub_1", Status: models.OrderStatusPaid,
	})

	stubEvent(svc, "evt_1", "customer.subscription.updated", map[string]interface{}{
		"id": "sub_1", "status": "active", "current_period_end": periodEnd,
	})
	handle(t, svc)

	order := repo.Orders[0]
	assert.Equal(t, models.OrderStatusActive, order.Status)
	require.NotNil(t, order.CurrentPeriodEnd)
	assert.Equal(t, periodEnd, order.CurrentPeriodEnd.Unix())
}

func TestSubscriptionDeletedRevokesAccess(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	repo.Orders = append(repo.Orders, models.Order{
		ID: "ord-1", StripeSubscriptionID: "sub_1", Status: models.OrderStatusActive,
		AccessStatus: models.AccessActive,
	})
	repo.Bindings = append(repo.Bindings, models.AccessBinding{
		ID: "b-1", OrderID: "ord-1", TelegramUserID: "555", Status: models.BindingStatusActive,
	})

	stubEvent(svc, "evt_1", "customer.subscription.deleted", map[string]interface{}{
		"id": "sub_1", "customer": "cus_1",
	})
	handle(t, svc)

	order := repo.Orders[0]
	assert.Equal(t, models.OrderStatusCanceled, order.Status)
	assert.Equal(t, models.AccessRevoked, order.AccessStatus)
	assert.Equal(t, models.BindingStatusInactive, repo.Bindings[0].Status)
}

func TestUnknownEventTypeIsRecordedAndIgnored(t *testing.T) {
	svc, repo, _, _ := newTestService(t)

	stubEvent(svc, "evt_1", "charge.refunded", map[string]interface{}{"id": "ch_1"})
	result := handle(t, svc)

	assert.False(t, result.Duplicate)
	require.Len(t, repo.Events, 1)
	assert.Equal(t, models.EventResultIgnored, repo.Events[0].ProcessResult)
	assert.Empty(t, repo.Orders)
}

func TestHandledEventTypeIsRecordedAsProcessed(t *testing.T) {
	svc, repo, _, _ := newTestService(t)

	stubEvent(svc, "evt_1", "checkout.session.expired", map[string]interface{}{"id": "cs_missing"})
	handle(t, svc)

	require.Len(t, repo.Events, 1)
	assert.Equal(t, models.EventResultProcessed, repo.Events[0].ProcessResult)
}

func TestCheckoutCompletedFiresConversionPostback(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.PostbackURL = srv.URL
	svc, repo, _, _ := newTestService(t)
	svc.cfg = cfg
	svc.postbacks = postback.NewClient(cfg)

	repo.Orders = append(repo.Orders, models.Order{
		ID: "ord-1", Email: "buyer@example.com", ClickID: "click-1", StripeSessionID: "cs_1",
	})
	stubEvent(svc, "evt_1", "checkout.session.completed", map[string]interface{}{"id": "cs_1"})
	handle(t, svc)

	assert.Contains(t, gotQuery, "cnv_status=pay_success")
	assert.Contains(t, gotQuery, "cnv_id=click-1")
	assert.Contains(t, gotQuery, fmt.Sprintf("payout=%s", FormatAmountMinor(cfg.SubscriptionPlan().AmountMinor, "usd")))
}

func TestOutOfOrderSubscriptionLifecycle(t *testing.T) {
	// invoice.paid arriving after customer.subscription.deleted must not
	// resurrect a canceled order's bindings through the customer fallback
	// when the subscription id still matches the canceled order; the last
	// event wins because each event applies its own absolute state.
	svc, repo, _, _ := newTestService(t)
	repo.Orders = append(repo.Orders, models.Order{
		ID: "ord-1", StripeSubscriptionID: "sub_1", StripeCustomerID: "cus_1",
		Status: models.OrderStatusActive, AccessStatus: models.AccessActive,
	})

	stubEvent(svc, "evt_del", "customer.subscription.deleted", map[string]interface{}{
		"id": "sub_1", "customer": "cus_1",
	})
	handle(t, svc)
	assert.Equal(t, models.AccessRevoked, repo.Orders[0].AccessStatus)

	stubEvent(svc, "evt_inv", "invoice.paid", invoicePayload("sub_1", "cus_1", time.Now().Add(720*time.Hour).Unix()))
	handle(t, svc)
	assert.Equal(t, models.AccessActive, repo.Orders[0].AccessStatus,
		"a later paid invoice reopens access; state is event-driven, not monotonic")
}
