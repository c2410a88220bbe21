package service

import (
	"strings"

	model "kapalku_backend/internals/features/payment/payments/model"
	"kapalku_backend/internals/features/payment/payments/dto"
)

// IdempotencyKey fingerprints a notification as order|transaction|status.
func IdempotencyKey(orderID, transactionID, gatewayStatus string) string {
	return orderID + "|" + transactionID + "|" + strings.ToLower(gatewayStatus)
}

// KeyFor folds the fraud status into the status part, so a card capture held
// for review ("capture:challenge") and its approval ("capture:accept") differ.
func KeyFor(n *dto.MidtransNotification) string {
	status := n.TransactionStatus
	if fs := strings.TrimSpace(n.FraudStatus); fs != "" {
		status += ":" + fs
	}
	return IdempotencyKey(n.OrderID, n.IdempotencyTxID(), status)
}

// AlreadyProcessed reports whether key was applied to p before.
func AlreadyProcessed(p *model.Payment, key string) bool {
	return p.HasProcessedKey(key)
}
