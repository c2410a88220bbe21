package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

/*
  event_outbox = domain events committed with the transition that caused them
  - written in the same transaction as payment/booking/audit
  - outbox_delivered_at stays NULL until the broker accepted the event
  - the redelivery sweep re-sends rows still undelivered after a grace period
*/

type EventOutbox struct {
	OutboxID      uuid.UUID      `gorm:"column:outbox_id;type:uuid;primaryKey" json:"outbox_id"`
	OutboxName    string         `gorm:"column:outbox_name;type:varchar(64);not null" json:"outbox_name"`
	OutboxOrderID string         `gorm:"column:outbox_order_id;type:varchar(64);not null;index" json:"outbox_order_id"`
	OutboxPayload datatypes.JSON `gorm:"column:outbox_payload;type:jsonb;not null" json:"outbox_payload"`

	OutboxAttempts  int     `gorm:"column:outbox_attempts;not null;default:0" json:"outbox_attempts"`
	OutboxLastError *string `gorm:"column:outbox_last_error" json:"outbox_last_error,omitempty"`

	OutboxCreatedAt   time.Time  `gorm:"column:outbox_created_at;not null;index" json:"outbox_created_at"`
	OutboxDeliveredAt *time.Time `gorm:"column:outbox_delivered_at;index" json:"outbox_delivered_at,omitempty"`
}

func (EventOutbox) TableName() string { return "event_outbox" }

func (o EventOutbox) Delivered() bool { return o.OutboxDeliveredAt != nil }
