package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

/* ===================== Model ===================== */

// Payment is one gateway transaction attempt for one booking. Rows are never
// deleted; they end in a terminal status instead.
type Payment struct {
	PaymentID        uuid.UUID `gorm:"column:payment_id;type:uuid;default:gen_random_uuid();primaryKey" json:"payment_id"`
	PaymentBookingID uuid.UUID `gorm:"column:payment_booking_id;type:uuid;not null;uniqueIndex" json:"payment_booking_id"`

	// order_id on the Midtrans side
	PaymentOrderID     string        `gorm:"column:payment_order_id;type:varchar(64);not null;uniqueIndex" json:"payment_order_id"`
	PaymentGrossAmount int64         `gorm:"column:payment_gross_amount;not null;check:payment_gross_amount >= 0" json:"payment_gross_amount"`
	PaymentCurrency    string        `gorm:"column:payment_currency;type:varchar(8);not null;default:IDR" json:"payment_currency"`
	PaymentStatus      PaymentStatus `gorm:"column:payment_status;type:varchar(16);not null;default:'PENDING';index" json:"payment_status"`

	PaymentGatewayProvider      string     `gorm:"column:payment_gateway_provider;type:varchar(32);not null;default:'midtrans'" json:"payment_gateway_provider"`
	PaymentGatewayTransactionID *string    `gorm:"column:payment_gateway_transaction_id" json:"payment_gateway_transaction_id,omitempty"`
	PaymentGatewayStatus        *string    `gorm:"column:payment_gateway_status" json:"payment_gateway_status,omitempty"`
	PaymentGatewayMethod        *string    `gorm:"column:payment_gateway_method" json:"payment_gateway_method,omitempty"`
	PaymentGatewayTime          *time.Time `gorm:"column:payment_gateway_time" json:"payment_gateway_time,omitempty"`
	PaymentSnapToken            *string    `gorm:"column:payment_snap_token" json:"payment_snap_token,omitempty"`
	PaymentCheckoutURL          *string    `gorm:"column:payment_checkout_url" json:"payment_checkout_url,omitempty"`

	PaymentWebhookCount  int        `gorm:"column:payment_webhook_count;not null;default:0" json:"payment_webhook_count"`
	PaymentLastWebhookAt *time.Time `gorm:"column:payment_last_webhook_at;index" json:"payment_last_webhook_at,omitempty"`
	PaymentExpiresAt     time.Time  `gorm:"column:payment_expires_at;not null;index" json:"payment_expires_at"`
	PaymentPaidAt        *time.Time `gorm:"column:payment_paid_at" json:"payment_paid_at,omitempty"`

	// optimistic concurrency counter, +1 on every committed mutation
	PaymentVersion int64 `gorm:"column:payment_version;not null;default:1" json:"payment_version"`
	// append-only list of applied idempotency keys (jsonb array of strings)
	PaymentProcessedKeys datatypes.JSON `gorm:"column:payment_processed_keys;type:jsonb;not null;default:'[]'" json:"-"`

	PaymentCreatedAt time.Time `gorm:"column:payment_created_at;autoCreateTime" json:"payment_created_at"`
	PaymentUpdatedAt time.Time `gorm:"column:payment_updated_at;autoUpdateTime" json:"payment_updated_at"`
}

func (Payment) TableName() string { return "payments" }

/* ===================== Helpers ===================== */

func (p *Payment) ProcessedKeys() []string {
	if len(p.PaymentProcessedKeys) == 0 {
		return nil
	}
	var keys []string
	_ = json.Unmarshal(p.PaymentProcessedKeys, &keys)
	return keys
}

func (p *Payment) HasProcessedKey(key string) bool {
	for _, k := range p.ProcessedKeys() {
		if k == key {
			return true
		}
	}
	return false
}

func (p *Payment) AppendProcessedKey(key string) {
	if p.HasProcessedKey(key) {
		return
	}
	keys := append(p.ProcessedKeys(), key)
	b, _ := json.Marshal(keys)
	p.PaymentProcessedKeys = datatypes.JSON(b)
}

func (p *Payment) IsOpen() bool {
	return p.PaymentStatus == PaymentStatusPending || p.PaymentStatus == PaymentStatusUnderReview
}

func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
