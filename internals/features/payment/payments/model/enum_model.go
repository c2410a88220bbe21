package model

type PaymentStatus string
type AuditOutcome string
type AuditActor string

const (
	PaymentStatusPending     PaymentStatus = "PENDING"
	PaymentStatusUnderReview PaymentStatus = "UNDER_REVIEW"
	PaymentStatusSuccess     PaymentStatus = "SUCCESS"
	PaymentStatusFailed      PaymentStatus = "FAILED"
	PaymentStatusExpired     PaymentStatus = "EXPIRED"
	PaymentStatusCancelled   PaymentStatus = "CANCELLED"
	PaymentStatusDenied      PaymentStatus = "DENIED"
	PaymentStatusRefunded    PaymentStatus = "REFUNDED"
)

// IsTerminal: no further outgoing transitions, reserved seats already went back.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusFailed, PaymentStatusExpired, PaymentStatusCancelled, PaymentStatusDenied, PaymentStatusRefunded:
		return true
	}
	return false
}

const (
	AuditOutcomeApplied   AuditOutcome = "applied"
	AuditOutcomeNoop      AuditOutcome = "noop"
	AuditOutcomeDuplicate AuditOutcome = "duplicate"
	AuditOutcomeSkipped   AuditOutcome = "skipped"
	AuditOutcomeFailed    AuditOutcome = "failed"
	AuditOutcomeMismatch  AuditOutcome = "mismatch"
)

const (
	ActorWebhook        AuditActor = "webhook"
	ActorRecovery       AuditActor = "recovery"
	ActorExpiry         AuditActor = "expiry"
	ActorReconciliation AuditActor = "reconciliation"
	ActorSystem         AuditActor = "system"
)

const GatewayProviderMidtrans = "midtrans"
