package payments

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"github.com/seranking/paygate/app/models"
	"github.com/seranking/paygate/internal/pkg/access/accesstest"
	"github.com/seranking/paygate/internal/pkg/apperr"
	"github.com/seranking/paygate/internal/pkg/config"
)

func testConfig() *config.Config {
	return &config.Config{
		AppBaseURL:              "https://pay.example.com",
		StripeWebhookSecret:     "whsec_test",
		PaySuccessURL:           "https://pay.example.com/pay/success",
		PayCancelURL:            "https://pay.example.com/pay/cancel",
		PayPortalReturnURL:      "https://pay.example.com/pay/manage",
		AccessTokenSecret:       "test-access-secret",
		SubscriptionGracePeriod: 72 * time.Hour,
		Plans: map[string]config.PlanConfig{
			"one_time_basic": {AmountMinor: 999, Currency: "usd", ProductName: "Premium"},
			"sub_monthly":    {AmountMinor: 1999, Currency: "usd", Interval: "month", ProductName: "Premium Monthly"},
		},
	}
}

type fakeEmails struct {
	accessEmails []string
	otpEmails    []string
	failAccess   bool
	failOTP      bool
}

func (f *fakeEmails) SendAccessEmail(email, orderID, activationLink, locale string) error {
	if f.failAccess {
		return errors.New("smtp down")
	}
	f.accessEmails = append(f.accessEmails, email)
	return nil
}

func (f *fakeEmails) SendOTP(email, otp string, allowPlainOTP bool, locale string) error {
	if f.failOTP {
		return errors.New("smtp down")
	}
	f.otpEmails = append(f.otpEmails, email)
	return nil
}

type fakeTelegram struct {
	sentChats []string
	sendOK    bool
	noBot     bool
}

func (f *fakeTelegram) BuildDeepLink(token string) string {
	if f.noBot {
		return ""
	}
	return "https://t.me/paygate_bot?start=" + token
}

func (f *fakeTelegram) SendActivationMessage(chatID, token string) bool {
	f.sentChats = append(f.sentChats, chatID)
	return f.sendOK
}

func newTestService(t *testing.T) (*Service, *accesstest.Repo, *fakeEmails, *fakeTelegram) {
	t.Helper()
	repo := accesstest.NewRepo()
	emails := &fakeEmails{}
	telegram := &fakeTelegram{sendOK: true}
	svc := NewService(testConfig(), repo, emails, telegram, nil)
	svc.createCheckoutSession = func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/cs_test_1"}, nil
	}
	svc.createPortalSession = func(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
		return &stripe.BillingPortalSession{URL: "https://billing.stripe.com/p/session_1"}, nil
	}
	return svc, repo, emails, telegram
}

func TestCreateCheckoutSessionOneTime(t *testing.T) {
	svc, repo, _, _ := newTestService(t)

	var gotParams *stripe.CheckoutSessionParams
	svc.createCheckoutSession = func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		gotParams = params
		return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/cs_test_1"}, nil
	}

	result, err := svc.CreateCheckoutSession(models.OrderModeOneTime, "one_time_basic",
		"buyer@example.com", "click-1", "ru-RU", "555")
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", result.SessionID)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_test_1", result.CheckoutURL)

	require.Len(t, repo.Orders, 1)
	order := repo.Orders[0]
	assert.Equal(t, models.OrderStatusSessionCreated, order.Status)
	assert.Equal(t, "cs_test_1", order.StripeSessionID)
	assert.Equal(t, "ru", order.Locale)
	assert.Equal(t, int64(999), order.AmountMinor)
	assert.Equal(t, result.OrderID, order.ID)

	require.NotNil(t, gotParams)
	assert.Equal(t, string(stripe.CheckoutSessionModePayment), *gotParams.Mode)
	assert.Equal(t, "https://pay.example.com/pay/success?session_id={CHECKOUT_SESSION_ID}", *gotParams.SuccessURL)
	assert.Equal(t, order.ID, gotParams.Metadata["order_id"])
	assert.Equal(t, "click-1", gotParams.Metadata["clickid"])
	require.Len(t, gotParams.LineItems, 1)
	assert.Nil(t, gotParams.LineItems[0].PriceData.Recurring)
}

func TestCreateCheckoutSessionSubscriptionRecurring(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	var gotParams *stripe.CheckoutSessionParams
	svc.createCheckoutSession = func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		gotParams = params
		return &stripe.CheckoutSession{ID: "cs_sub_1", URL: "https://checkout.stripe.com/c/cs_sub_1"}, nil
	}

	_, err := svc.CreateCheckoutSession(models.OrderModeSubscription, "sub_monthly",
		"buyer@example.com", "click-1", "", "")
	require.NoError(t, err)

	assert.Equal(t, string(stripe.CheckoutSessionModeSubscription), *gotParams.Mode)
	require.NotNil(t, gotParams.LineItems[0].PriceData.Recurring)
	assert.Equal(t, "month", *gotParams.LineItems[0].PriceData.Recurring.Interval)
}

func TestCreateCheckoutSessionValidation(t *testing.T) {
	svc, repo, _, _ := newTestService(t)

	tests := []struct {
		name    string
		mode    string
		plan    string
		clickID string
		message string
	}{
		{name: "empty clickid", mode: models.OrderModeOneTime, plan: "one_time_basic", clickID: "<<>>", message: "Invalid clickid"},
		{name: "unknown plan", mode: models.OrderModeOneTime, plan: "lifetime", clickID: "c1", message: "Unknown plan"},
		{name: "one-time plan as subscription", mode: models.OrderModeSubscription, plan: "one_time_basic", clickID: "c1", message: "Plan does not support subscription"},
		{name: "recurring plan as one-time", mode: models.OrderModeOneTime, plan: "sub_monthly", clickID: "c1", message: "Plan is subscription-only"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateCheckoutSession(tc.mode, tc.plan, "buyer@example.com", tc.clickID, "", "")
			require.Error(t, err)
			assert.Equal(t, tc.message, apperr.MessageOf(err))
		})
	}
	assert.Empty(t, repo.Orders, "validation failures must not persist orders")
}

func TestCreateCheckoutSessionStripeFailureRollsBack(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	svc.createCheckoutSession = func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		return nil, errors.New("api unreachable")
	}

	_, err := svc.CreateCheckoutSession(models.OrderModeOneTime, "one_time_basic",
		"buyer@example.com", "click-1", "", "")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
	assert.Empty(t, repo.Orders, "order must roll back when the provider call fails")
}

func TestCreateCheckoutSessionMissingURL(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	svc.createCheckoutSession = func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		return &stripe.CheckoutSession{ID: "cs_test_1"}, nil
	}

	_, err := svc.CreateCheckoutSession(models.OrderModeOneTime, "one_time_basic",
		"buyer@example.com", "click-1", "", "")
	require.Error(t, err)
	assert.Equal(t, "Stripe did not return checkout URL", apperr.MessageOf(err))
	assert.Empty(t, repo.Orders)
}

func TestSessionStatusNotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.SessionStatus("cs_missing")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestSessionStatusWithIssuedToken(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	repo.Orders = append(repo.Orders, models.Order{
		ID:                "ord-1",
		StripeSessionID:   "cs_1",
		Status:            models.OrderStatusPaid,
		FulfillmentStatus: models.FulfillmentDone,
		AccessStatus:      models.AccessTokenIssued,
	})
	repo.Tokens = append(repo.Tokens, models.AccessToken{
		ID: "11111111-2222-3333-4444-555555555555", OrderID: "ord-1", Status: models.TokenStatusIssued,
	})

	status, err := svc.SessionStatus("cs_1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, status.PaymentStatus)
	assert.Equal(t, models.FulfillmentDone, status.FulfillmentStatus)
	assert.Equal(t, models.AccessTokenIssued, status.AccessStatus)
	assert.Contains(t, status.ActivationLink, "https://t.me/paygate_bot?start=")
}

func TestCreateCustomerPortal(t *testing.T) {
	svc, repo, _, _ := newTestService(t)

	_, err := svc.CreateCustomerPortal("nobody@example.com")
	require.Error(t, err)
	assert.Equal(t, "No stripe customer found", apperr.MessageOf(err))

	repo.Orders = append(repo.Orders, models.Order{
		ID: "ord-1", Email: "buyer@example.com", StripeCustomerID: "cus_1",
	})
	url, err := svc.CreateCustomerPortal("buyer@example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.com/p/session_1", url)
}

func TestCreateCustomerPortalStripeFailure(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	repo.Orders = append(repo.Orders, models.Order{
		ID: "ord-1", Email: "buyer@example.com", StripeCustomerID: "cus_1",
	})
	svc.createPortalSession = func(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
		return nil, errors.New("api unreachable")
	}

	_, err := svc.CreateCustomerPortal("buyer@example.com")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
}

func TestFormatAmountMinor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		amount   int64
		currency string
		want     string
	}{
		{999, "usd", "9.99"},
		{1000, "eur", "10.00"},
		{5, "usd", "0.05"},
		{999, "jpy", "999"},
		{999, "KRW", "999"},
		{-50, "usd", "0.00"},
		{-50, "jpy", "0"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, FormatAmountMinor(tc.amount, tc.currency))
	}
}
