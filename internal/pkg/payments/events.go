package payments

import "time"

// Minimal projections of the provider event objects; only the fields the
// reconciler reads are decoded from event.Data.Raw.

type checkoutSessionObject struct {
	ID               string            `json:"id"`
	PaymentIntent    string            `json:"payment_intent"`
	Customer         string            `json:"customer"`
	Subscription     string            `json:"subscription"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
}

type paymentIntentObject struct {
	ID string `json:"id"`
}

type invoiceObject struct {
	Subscription string `json:"subscription"`
	Customer     string `json:"customer"`
	Lines        struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

// firstPeriodEnd returns the period end of the first invoice line, or zero.
func (inv invoiceObject) firstPeriodEnd() int64 {
	if len(inv.Lines.Data) == 0 {
		return 0
	}
	return inv.Lines.Data[0].Period.End
}

type subscriptionObject struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
}

// unixTime converts a provider unix timestamp to UTC; zero means absent.
func unixTime(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
