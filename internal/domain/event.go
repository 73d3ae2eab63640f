package domain

// EventType identifies a processor notification variant. Unknown types are
// ignored by the ingestor, not treated as errors.
type EventType string

const (
	EventChargeSucceeded      EventType = "charge.succeeded"
	EventChargeFailed         EventType = "charge.failed"
	EventChargeRefunded       EventType = "charge.refunded"
	EventInvoicePaid          EventType = "subscription.invoice_paid"
	EventSubscriptionCanceled EventType = "subscription.canceled"
	EventAccountUpdated       EventType = "account.updated"
)

// Event is a normalized processor notification. ID is the processor's event
// id and is the idempotency key for ingestion. Exactly one payload pointer
// is non-nil, matching Type.
type Event struct {
	ID           string
	Type         EventType
	Payment      *PaymentEvent
	Refund       *RefundEvent
	Subscription *SubscriptionEvent
	Account      *AccountEvent
}

// PaymentEvent carries a settled or failed charge. SubscriptionID is set
// when the charge was generated by a recurring invoice.
type PaymentEvent struct {
	PaymentID      string
	CheckoutID     string
	Amount         int64
	Currency       string
	Customer       CustomerDetails
	SubscriptionID string
}

// RefundEvent references the charge being reversed.
type RefundEvent struct {
	PaymentID string
}

// SubscriptionEvent reports a customer canceling a recurring enrollment.
type SubscriptionEvent struct {
	SubscriptionID string
}

// AccountEvent reports verification progress for a connected account.
type AccountEvent struct {
	ProcessorID      string
	DetailsSubmitted bool
	ChargesEnabled   bool
}

// VerificationStatus derives the account status implied by the event flags.
func (e *AccountEvent) VerificationStatus() AccountStatus {
	if e.DetailsSubmitted && e.ChargesEnabled {
		return AccountVerified
	}
	if e.DetailsSubmitted {
		return AccountRestricted
	}
	return AccountNew
}
