// Package accesstest provides an in-memory ledger repository for service
// tests. It mimics the GORM-backed repository's contract: misses return
// gorm.ErrRecordNotFound and Transaction rolls every mutation back on error.
package accesstest

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/seranking/paygate/app/models"
	"github.com/seranking/paygate/internal/pkg/access"
)

// Repo stores entities as values; lookups hand out copies so callers mutate
// nothing until they Save.
type Repo struct {
	mu sync.Mutex

	Orders   []models.Order
	Events   []models.PaymentEvent
	Tokens   []models.AccessToken
	Bindings []models.AccessBinding
	Creds    []models.RestoreCredential

	// Clock stamps created rows; defaults to time.Now.
	Clock func() time.Time
}

var _ access.Repository = (*Repo)(nil)

func NewRepo() *Repo {
	return &Repo{Clock: time.Now}
}

func (r *Repo) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}

// Transaction snapshots the state and restores it when fn fails.
func (r *Repo) Transaction(fn func(access.Repository) error) error {
	r.mu.Lock()
	orders := append([]models.Order(nil), r.Orders...)
	events := append([]models.PaymentEvent(nil), r.Events...)
	tokens := append([]models.AccessToken(nil), r.Tokens...)
	bindings := append([]models.AccessBinding(nil), r.Bindings...)
	creds := append([]models.RestoreCredential(nil), r.Creds...)
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.Orders, r.Events, r.Tokens, r.Bindings, r.Creds = orders, events, tokens, bindings, creds
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *Repo) CreateOrder(o *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.CreatedAt = r.now()
	o.UpdatedAt = o.CreatedAt
	r.Orders = append(r.Orders, *o)
	return nil
}

func (r *Repo) SaveOrder(o *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o.UpdatedAt = r.now()
	for i := range r.Orders {
		if r.Orders[i].ID == o.ID {
			r.Orders[i] = *o
			return nil
		}
	}
	r.Orders = append(r.Orders, *o)
	return nil
}

func (r *Repo) findOrder(match func(*models.Order) bool) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.Orders {
		if match(&r.Orders[i]) {
			o := r.Orders[i]
			return &o, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *Repo) latestOrder(match func(*models.Order) bool) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *models.Order
	for i := range r.Orders {
		o := &r.Orders[i]
		if !match(o) {
			continue
		}
		if found == nil || o.UpdatedAt.After(found.UpdatedAt) {
			found = o
		}
	}
	if found == nil {
		return nil, gorm.ErrRecordNotFound
	}
	o := *found
	return &o, nil
}

func (r *Repo) GetOrderByID(id string) (*models.Order, error) {
	return r.findOrder(func(o *models.Order) bool { return o.ID == id })
}

func (r *Repo) GetOrderBySessionID(sessionID string) (*models.Order, error) {
	return r.findOrder(func(o *models.Order) bool { return o.StripeSessionID == sessionID })
}

func (r *Repo) GetOrderByPaymentIntentID(paymentIntentID string) (*models.Order, error) {
	return r.findOrder(func(o *models.Order) bool { return o.StripePaymentIntentID == paymentIntentID })
}

func (r *Repo) GetOrderBySubscriptionID(subscriptionID string) (*models.Order, error) {
	return r.findOrder(func(o *models.Order) bool { return o.StripeSubscriptionID == subscriptionID })
}

func (r *Repo) GetLatestOrderByCustomerID(customerID string) (*models.Order, error) {
	return r.latestOrder(func(o *models.Order) bool { return o.StripeCustomerID == customerID })
}

func (r *Repo) GetLatestOrderByEmail(email string) (*models.Order, error) {
	return r.latestOrder(func(o *models.Order) bool { return o.Email == email })
}

func (r *Repo) GetLatestOrderWithCustomerByEmail(email string) (*models.Order, error) {
	return r.latestOrder(func(o *models.Order) bool {
		return o.Email == email && o.StripeCustomerID != ""
	})
}

func (r *Repo) GetLatestOrderByChatID(chatID string) (*models.Order, error) {
	return r.latestOrder(func(o *models.Order) bool { return o.TelegramChatID == chatID })
}

func (r *Repo) CreatePaymentEventIfNew(ev *models.PaymentEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.Events {
		if r.Events[i].StripeEventID == ev.StripeEventID {
			return false, nil
		}
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.ProcessedAt = r.now()
	r.Events = append(r.Events, *ev)
	return true, nil
}

func (r *Repo) CreateAccessToken(t *models.AccessToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.IssuedAt = r.now()
	r.Tokens = append(r.Tokens, *t)
	return nil
}

func (r *Repo) GetAccessTokenByID(id string) (*models.AccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.Tokens {
		if r.Tokens[i].ID == id {
			t := r.Tokens[i]
			return &t, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *Repo) GetLatestIssuedToken(orderID string) (*models.AccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	candidates := make([]models.AccessToken, 0, len(r.Tokens))
	for i := range r.Tokens {
		t := r.Tokens[i]
		if t.OrderID == orderID && t.Status == models.TokenStatusIssued {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].IssuedAt.After(candidates[j].IssuedAt)
	})
	t := candidates[0]
	return &t, nil
}

func (r *Repo) MarkTokenActivated(id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.Tokens {
		if r.Tokens[i].ID == id && r.Tokens[i].Status == models.TokenStatusIssued {
			r.Tokens[i].Status = models.TokenStatusActivated
			activatedAt := at
			r.Tokens[i].ActivatedAt = &activatedAt
			return true, nil
		}
	}
	return false, nil
}

func (r *Repo) RevokeIssuedTokens(orderID, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.Tokens {
		if r.Tokens[i].OrderID == orderID && r.Tokens[i].Status == models.TokenStatusIssued {
			r.Tokens[i].Status = models.TokenStatusRevoked
			r.Tokens[i].RevokedReason = reason
			revokedAt := at
			r.Tokens[i].RevokedAt = &revokedAt
		}
	}
	return nil
}

func (r *Repo) GetBinding(orderID, telegramUserID string) (*models.AccessBinding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.Bindings {
		if r.Bindings[i].OrderID == orderID && r.Bindings[i].TelegramUserID == telegramUserID {
			b := r.Bindings[i]
			return &b, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *Repo) CreateBinding(b *models.AccessBinding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.BoundAt = r.now()
	r.Bindings = append(r.Bindings, *b)
	return nil
}

func (r *Repo) SaveBinding(b *models.AccessBinding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.Bindings {
		if r.Bindings[i].ID == b.ID {
			r.Bindings[i] = *b
			return nil
		}
	}
	r.Bindings = append(r.Bindings, *b)
	return nil
}

func (r *Repo) SetBindingsStatus(orderID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.Bindings {
		if r.Bindings[i].OrderID == orderID {
			r.Bindings[i].Status = status
		}
	}
	return nil
}

func (r *Repo) latestBinding(match func(*models.AccessBinding) bool) (*models.AccessBinding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *models.AccessBinding
	for i := range r.Bindings {
		b := &r.Bindings[i]
		if !match(b) {
			continue
		}
		if found == nil || b.BoundAt.After(found.BoundAt) {
			found = b
		}
	}
	if found == nil {
		return nil, gorm.ErrRecordNotFound
	}
	b := *found
	return &b, nil
}

func (r *Repo) GetLatestActiveBindingByUser(telegramUserID string) (*models.AccessBinding, error) {
	return r.latestBinding(func(b *models.AccessBinding) bool {
		return b.TelegramUserID == telegramUserID && b.Status == models.BindingStatusActive
	})
}

func (r *Repo) GetLatestBindingByUser(telegramUserID string) (*models.AccessBinding, error) {
	return r.latestBinding(func(b *models.AccessBinding) bool {
		return b.TelegramUserID == telegramUserID
	})
}

func (r *Repo) CountRestoreCredentialsSince(email string, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for i := range r.Creds {
		if r.Creds[i].Email == email && !r.Creds[i].CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *Repo) CreateRestoreCredential(rc *models.RestoreCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rc.ID == "" {
		rc.ID = uuid.NewString()
	}
	if rc.MaxAttempts == 0 {
		rc.MaxAttempts = models.RestoreMaxAttempts
	}
	rc.CreatedAt = r.now()
	r.Creds = append(r.Creds, *rc)
	return nil
}

func (r *Repo) GetLatestUnusedRestoreCredential(email string) (*models.RestoreCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *models.RestoreCredential
	for i := range r.Creds {
		rc := &r.Creds[i]
		if rc.Email != email || rc.UsedAt != nil {
			continue
		}
		if found == nil || rc.CreatedAt.After(found.CreatedAt) {
			found = rc
		}
	}
	if found == nil {
		return nil, gorm.ErrRecordNotFound
	}
	rc := *found
	return &rc, nil
}

func (r *Repo) SaveRestoreCredential(rc *models.RestoreCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.Creds {
		if r.Creds[i].ID == rc.ID {
			r.Creds[i] = *rc
			return nil
		}
	}
	r.Creds = append(r.Creds, *rc)
	return nil
}
