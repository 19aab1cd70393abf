package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	EventResultProcessed = "processed"
	EventResultIgnored   = "ignored"
)

// PaymentEvent records one processed provider webhook event. The unique
// stripe_event_id column is the idempotency gate for redelivery: an existing
// row means the event is a duplicate and must cause no further mutations.
type PaymentEvent struct {
	ID            string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	StripeEventID string    `gorm:"type:varchar(128);not null;uniqueIndex" json:"stripe_event_id"`
	EventType     string    `gorm:"type:varchar(128);not null" json:"event_type"`
	PayloadJSON   string    `gorm:"type:longtext;not null" json:"payload_json"`
	ProcessResult string    `gorm:"type:varchar(32);not null;default:'processed'" json:"process_result"`
	ProcessedAt   time.Time `gorm:"autoCreateTime" json:"processed_at"`
}

func (e *PaymentEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
