// file: internals/features/payment/payments/dto/midtrans_notification_dto.go
package dto

import (
	"strings"
	"time"
)

/* =======================================================================
   Midtrans HTTP notification / status response
   (status query returns the same shape, so recovery reuses it)
======================================================================= */

type MidtransNotification struct {
	TransactionTime   string `json:"transaction_time"`
	TransactionStatus string `json:"transaction_status" validate:"required,max=32"` // capture, settlement, pending, deny, cancel, expire, refund, partial_refund, chargeback, authorize, failure
	StatusCode        string `json:"status_code" validate:"required,max=8"`
	SignatureKey      string `json:"signature_key"`
	OrderID           string `json:"order_id" validate:"required,max=64"`
	GrossAmount       string `json:"gross_amount" validate:"required"` // string dari Midtrans, contoh "150000.00"
	PaymentType       string `json:"payment_type"`
	FraudStatus       string `json:"fraud_status"` // accept / challenge / deny
	TransactionID     string `json:"transaction_id"`
	SettlementTime    string `json:"settlement_time"`
	Currency          string `json:"currency"`
}

// Midtrans mengirim waktu dalam WIB tanpa offset.
var midtransLocation = time.FixedZone("WIB", 7*60*60)

const midtransTimeLayout = "2006-01-02 15:04:05"

func (n *MidtransNotification) Normalize() {
	n.TransactionStatus = strings.ToLower(strings.TrimSpace(n.TransactionStatus))
	n.FraudStatus = strings.ToLower(strings.TrimSpace(n.FraudStatus))
	n.PaymentType = strings.ToLower(strings.TrimSpace(n.PaymentType))
	n.OrderID = strings.TrimSpace(n.OrderID)
	n.TransactionID = strings.TrimSpace(n.TransactionID)
}

// GatewayTime prefers settlement_time over transaction_time.
func (n *MidtransNotification) GatewayTime() *time.Time {
	for _, s := range []string{n.SettlementTime, n.TransactionTime} {
		if s == "" {
			continue
		}
		if t, err := time.ParseInLocation(midtransTimeLayout, s, midtransLocation); err == nil {
			return &t
		}
	}
	return nil
}

// IdempotencyTxID is "-" when the gateway sent no transaction id (synthetic expiry).
func (n *MidtransNotification) IdempotencyTxID() string {
	if n.TransactionID != "" {
		return n.TransactionID
	}
	return "-"
}
