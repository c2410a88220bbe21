package model

import "time"

// WebhookLock is a leased, advisory per-order mutex. Any worker may take over
// a row whose lease has expired.
type WebhookLock struct {
	WebhookLockOrderID   string    `gorm:"column:webhook_lock_order_id;type:varchar(64);primaryKey" json:"webhook_lock_order_id"`
	WebhookLockHolder    string    `gorm:"column:webhook_lock_holder;type:varchar(64);not null" json:"webhook_lock_holder"`
	WebhookLockExpiresAt time.Time `gorm:"column:webhook_lock_expires_at;not null;index" json:"webhook_lock_expires_at"`
	WebhookLockCreatedAt time.Time `gorm:"column:webhook_lock_created_at;autoCreateTime" json:"webhook_lock_created_at"`
}

func (WebhookLock) TableName() string { return "webhook_locks" }
