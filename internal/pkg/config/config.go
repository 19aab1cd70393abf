package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/seranking/paygate/internal/pkg/env"
)

// PlanConfig is the static pricing for one purchasable plan.
type PlanConfig struct {
	AmountMinor int64
	Currency    string
	Interval    string // empty for one-time plans
	ProductName string
}

// Recurring reports whether the plan bills on an interval.
func (p PlanConfig) Recurring() bool {
	return p.Interval != ""
}

// Config is the immutable service configuration, built once at startup and
// passed into each component by reference.
type Config struct {
	AppBaseURL string

	StripeSecretKey     string
	StripeWebhookSecret string

	PaySuccessURL      string
	PayCancelURL       string
	PayPortalReturnURL string

	AccessTokenSecret string

	TelegramBotToken    string
	TelegramBotUsername string

	EmailDeliveryMode string
	SMTPHost          string
	SMTPPort          string
	SMTPLogin         string
	SMTPPassword      string
	SMTPFromEmail     string
	SMTPTimeout       time.Duration

	LogOTPInNonprod         bool
	OTPTTL                  time.Duration
	RestoreRateLimitPerHour int

	BotInternalToken string

	SubscriptionGracePeriod time.Duration

	PostbackURL string

	Plans map[string]PlanConfig
}

// Load builds the configuration from the process environment. env.SetupEnvFile
// must have been called first.
func Load() *Config {
	base := strings.TrimRight(env.GetEnv("APP_BASE_URL", "http://localhost:8080"), "/")

	cfg := &Config{
		AppBaseURL:          base,
		StripeSecretKey:     env.GetEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		PaySuccessURL:       env.GetEnv("PAY_SUCCESS_URL", base+"/pay/success"),
		PayCancelURL:        env.GetEnv("PAY_CANCEL_URL", base+"/pay/cancel"),
		PayPortalReturnURL:  env.GetEnv("PAY_PORTAL_RETURN_URL", base+"/pay/manage"),
		AccessTokenSecret:   env.GetEnv("ACCESS_TOKEN_SECRET", "dev-access-secret"),
		TelegramBotToken:    env.GetEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramBotUsername: env.GetEnv("TELEGRAM_BOT_USERNAME", ""),
		EmailDeliveryMode:   strings.ToLower(env.GetEnv("EMAIL_DELIVERY_MODE", "log_only")),
		SMTPHost:            env.GetEnv("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:            env.GetEnv("SMTP_PORT", "587"),
		SMTPLogin:           env.GetEnv("SMTP_LOGIN", ""),
		SMTPPassword:        env.GetEnv("SMTP_PASSWORD", ""),
		SMTPFromEmail:       env.GetEnv("SMTP_FROM_EMAIL", ""),
		SMTPTimeout:         secondsEnv("SMTP_TIMEOUT_SECONDS", 15),

		LogOTPInNonprod:         boolEnv("LOG_OTP_IN_NONPROD", true),
		OTPTTL:                  secondsEnv("OTP_TTL_SECONDS", 600),
		RestoreRateLimitPerHour: intEnv("RESTORE_RATE_LIMIT_PER_HOUR", 5),

		BotInternalToken: env.GetEnv("BOT_INTERNAL_TOKEN", ""),

		SubscriptionGracePeriod: secondsEnv("SUBSCRIPTION_GRACE_PERIOD_SECONDS", 0),

		PostbackURL: strings.TrimSpace(env.GetEnv("POSTBACK_URL", "")),

		Plans: map[string]PlanConfig{
			"one_time_basic": {
				AmountMinor: int64(intEnv("PAY_ONE_TIME_BASIC_AMOUNT_MINOR", 999)),
				Currency:    env.GetEnv("PAY_ONE_TIME_BASIC_CURRENCY", "usd"),
				ProductName: env.GetEnv("PAY_ONE_TIME_BASIC_PRODUCT_NAME", "Seranking Premium"),
			},
			"sub_monthly": {
				AmountMinor: int64(intEnv("PAY_SUB_MONTHLY_AMOUNT_MINOR", 999)),
				Currency:    env.GetEnv("PAY_SUB_MONTHLY_CURRENCY", "usd"),
				Interval:    env.GetEnv("PAY_SUB_MONTHLY_INTERVAL", "month"),
				ProductName: env.GetEnv("PAY_SUB_MONTHLY_PRODUCT_NAME", "Seranking Premium Monthly"),
			},
		},
	}
	return cfg
}

// Plan resolves a plan key to its pricing.
func (c *Config) Plan(key string) (PlanConfig, bool) {
	p, ok := c.Plans[key]
	return p, ok
}

// SubscriptionPlan returns the recurring plan used for postback payout values.
func (c *Config) SubscriptionPlan() PlanConfig {
	return c.Plans["sub_monthly"]
}

func intEnv(key string, def int) int {
	v, err := strconv.Atoi(env.GetEnv(key, strconv.Itoa(def)))
	if err != nil {
		return def
	}
	return v
}

func secondsEnv(key string, def int) time.Duration {
	return time.Duration(intEnv(key, def)) * time.Second
}

func boolEnv(key string, def bool) bool {
	v, err := strconv.ParseBool(env.GetEnv(key, strconv.FormatBool(def)))
	if err != nil {
		return def
	}
	return v
}
