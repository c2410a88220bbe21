// file: internals/features/payment/payments/model/payment_audit_log_model.go
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

/*
  payment_audit_logs = append-only ledger of every attempted transition
  - many rows per payment (each notification, recovery pass, reconciliation)
  - keeps before/after status, outcome, actor and the raw (size-capped) payload
*/

type PaymentAuditLog struct {
	AuditID        uuid.UUID  `gorm:"column:audit_id;type:uuid;default:gen_random_uuid();primaryKey" json:"audit_id"`
	AuditPaymentID *uuid.UUID `gorm:"column:audit_payment_id;type:uuid;index" json:"audit_payment_id,omitempty"`
	AuditOrderID   string     `gorm:"column:audit_order_id;type:varchar(64);not null;index" json:"audit_order_id"`

	AuditPrevStatus    *PaymentStatus `gorm:"column:audit_prev_status;type:varchar(16)" json:"audit_prev_status,omitempty"`
	AuditNewStatus     *PaymentStatus `gorm:"column:audit_new_status;type:varchar(16)" json:"audit_new_status,omitempty"`
	AuditGatewayStatus string         `gorm:"column:audit_gateway_status;type:varchar(32)" json:"audit_gateway_status"`
	AuditAction        string         `gorm:"column:audit_action;type:varchar(32);not null" json:"audit_action"`
	AuditOutcome       AuditOutcome   `gorm:"column:audit_outcome;type:varchar(16);not null" json:"audit_outcome"`
	AuditReason        *string        `gorm:"column:audit_reason" json:"audit_reason,omitempty"`
	AuditActor         AuditActor     `gorm:"column:audit_actor;type:varchar(16);not null" json:"audit_actor"`
	AuditPayload       datatypes.JSON `gorm:"column:audit_payload;type:jsonb" json:"audit_payload,omitempty"`

	AuditCreatedAt time.Time `gorm:"column:audit_created_at;autoCreateTime" json:"audit_created_at"`
}

func (PaymentAuditLog) TableName() string { return "payment_audit_logs" }

func StatusPtr(s PaymentStatus) *PaymentStatus { return &s }
