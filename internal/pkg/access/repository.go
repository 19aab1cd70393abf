package access

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/seranking/paygate/app/models"
)

// Repository provides the ledger DB operations used by the access and payment
// services. Lookups that can miss return gorm.ErrRecordNotFound.
type Repository interface {
	// Transaction runs fn against a repository bound to one transaction; all
	// mutations inside commit or roll back together.
	Transaction(fn func(Repository) error) error

	CreateOrder(o *models.Order) error
	SaveOrder(o *models.Order) error
	GetOrderByID(id string) (*models.Order, error)
	GetOrderBySessionID(sessionID string) (*models.Order, error)
	GetOrderByPaymentIntentID(paymentIntentID string) (*models.Order, error)
	GetOrderBySubscriptionID(subscriptionID string) (*models.Order, error)
	GetLatestOrderByCustomerID(customerID string) (*models.Order, error)
	GetLatestOrderByEmail(email string) (*models.Order, error)
	GetLatestOrderWithCustomerByEmail(email string) (*models.Order, error)
	GetLatestOrderByChatID(chatID string) (*models.Order, error)

	// CreatePaymentEventIfNew inserts the dedup row for a provider event id.
	// It returns false when a row for that id already exists; a concurrent
	// duplicate insert resolves to false via the unique constraint.
	CreatePaymentEventIfNew(ev *models.PaymentEvent) (bool, error)

	CreateAccessToken(t *models.AccessToken) error
	GetAccessTokenByID(id string) (*models.AccessToken, error)
	GetLatestIssuedToken(orderID string) (*models.AccessToken, error)
	// MarkTokenActivated flips an issued token to activated with a guarded
	// update; it returns false when the token was no longer issued, which is
	// how a concurrent-activation loser observes the race.
	MarkTokenActivated(id string, at time.Time) (bool, error)
	RevokeIssuedTokens(orderID, reason string, at time.Time) error

	GetBinding(orderID, telegramUserID string) (*models.AccessBinding, error)
	CreateBinding(b *models.AccessBinding) error
	SaveBinding(b *models.AccessBinding) error
	SetBindingsStatus(orderID, status string) error
	GetLatestActiveBindingByUser(telegramUserID string) (*models.AccessBinding, error)
	GetLatestBindingByUser(telegramUserID string) (*models.AccessBinding, error)

	CountRestoreCredentialsSince(email string, since time.Time) (int64, error)
	CreateRestoreCredential(rc *models.RestoreCredential) error
	GetLatestUnusedRestoreCredential(email string) (*models.RestoreCredential, error)
	SaveRestoreCredential(rc *models.RestoreCredential) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a ledger repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) CreateOrder(o *models.Order) error {
	return r.db.Create(o).Error
}

func (r *gormRepository) SaveOrder(o *models.Order) error {
	return r.db.Save(o).Error
}

func (r *gormRepository) GetOrderByID(id string) (*models.Order, error) {
	var o models.Order
	if err := r.db.Where("id = ?", id).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *gormRepository) GetOrderBySessionID(sessionID string) (*models.Order, error) {
	var o models.Order
	if err := r.db.Where("stripe_session_id = ?", sessionID).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *gormRepository) GetOrderByPaymentIntentID(paymentIntentID string) (*models.Order, error) {
	var o models.Order
	if err := r.db.Where("stripe_payment_intent_id = ?", paymentIntentID).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *gormRepository) GetOrderBySubscriptionID(subscriptionID string) (*models.Order, error) {
	var o models.Order
	if err := r.db.Where("stripe_subscription_id = ?", subscriptionID).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *gormRepository) GetLatestOrderByCustomerID(customerID string) (*models.Order, error) {
	var o models.Order
	err := r.db.Where("stripe_customer_id = ?", customerID).
		Order("updated_at DESC").First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *gormRepository) GetLatestOrderByEmail(email string) (*models.Order, error) {
	var o models.Order
	err := r.db.Where("email = ?", email).
		Order("updated_at DESC").First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *gormRepository) GetLatestOrderWithCustomerByEmail(email string) (*models.Order, error) {
	var o models.Order
	err := r.db.Where("email = ? AND stripe_customer_id IS NOT NULL AND stripe_customer_id <> ''", email).
		Order("updated_at DESC").First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *gormRepository) GetLatestOrderByChatID(chatID string) (*models.Order, error) {
	var o models.Order
	err := r.db.Where("telegram_chat_id = ?", chatID).
		Order("updated_at DESC").First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *gormRepository) CreatePaymentEventIfNew(ev *models.PaymentEvent) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_event_id"}},
		DoNothing: true,
	}).Create(ev)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) CreateAccessToken(t *models.AccessToken) error {
	return r.db.Create(t).Error
}

func (r *gormRepository) GetAccessTokenByID(id string) (*models.AccessToken, error) {
	var t models.AccessToken
	if err := r.db.Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *gormRepository) GetLatestIssuedToken(orderID string) (*models.AccessToken, error) {
	var t models.AccessToken
	err := r.db.Where("order_id = ? AND status = ?", orderID, models.TokenStatusIssued).
		Order("issued_at DESC").First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *gormRepository) MarkTokenActivated(id string, at time.Time) (bool, error) {
	tx := r.db.Model(&models.AccessToken{}).
		Where("id = ? AND status = ?", id, models.TokenStatusIssued).
		Updates(map[string]interface{}{
			"status":       models.TokenStatusActivated,
			"activated_at": at,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) RevokeIssuedTokens(orderID, reason string, at time.Time) error {
	return r.db.Model(&models.AccessToken{}).
		Where("order_id = ? AND status = ?", orderID, models.TokenStatusIssued).
		Updates(map[string]interface{}{
			"status":         models.TokenStatusRevoked,
			"revoked_reason": reason,
			"revoked_at":     at,
		}).Error
}

func (r *gormRepository) GetBinding(orderID, telegramUserID string) (*models.AccessBinding, error) {
	var b models.AccessBinding
	err := r.db.Where("order_id = ? AND telegram_user_id = ?", orderID, telegramUserID).
		First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *gormRepository) CreateBinding(b *models.AccessBinding) error {
	return r.db.Create(b).Error
}

func (r *gormRepository) SaveBinding(b *models.AccessBinding) error {
	return r.db.Save(b).Error
}

func (r *gormRepository) SetBindingsStatus(orderID, status string) error {
	return r.db.Model(&models.AccessBinding{}).
		Where("order_id = ?", orderID).
		Update("status", status).Error
}

func (r *gormRepository) GetLatestActiveBindingByUser(telegramUserID string) (*models.AccessBinding, error) {
	var b models.AccessBinding
	err := r.db.Where("telegram_user_id = ? AND status = ?", telegramUserID, models.BindingStatusActive).
		Order("bound_at DESC").First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *gormRepository) GetLatestBindingByUser(telegramUserID string) (*models.AccessBinding, error) {
	var b models.AccessBinding
	err := r.db.Where("telegram_user_id = ?", telegramUserID).
		Order("bound_at DESC").First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *gormRepository) CountRestoreCredentialsSince(email string, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&models.RestoreCredential{}).
		Where("email = ? AND created_at >= ?", email, since).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) CreateRestoreCredential(rc *models.RestoreCredential) error {
	return r.db.Create(rc).Error
}

func (r *gormRepository) GetLatestUnusedRestoreCredential(email string) (*models.RestoreCredential, error) {
	var rc models.RestoreCredential
	err := r.db.Where("email = ? AND used_at IS NULL", email).
		Order("created_at DESC").First(&rc).Error
	if err != nil {
		return nil, err
	}
	return &rc, nil
}

func (r *gormRepository) SaveRestoreCredential(rc *models.RestoreCredential) error {
	return r.db.Save(rc).Error
}
