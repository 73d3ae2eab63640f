package processor

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lumapay/linkledger/internal/domain"
)

// SignatureTolerance bounds how old a webhook timestamp may be before the
// delivery is rejected as a possible replay.
const SignatureTolerance = 5 * time.Minute

// VerifySignature checks the processor's signature header against the raw
// payload. The header format is "t=<unix>,v1=<hex hmac-sha256>" where the
// MAC covers "<unix>.<payload>".
func VerifySignature(secret string, payload []byte, header string, now time.Time) error {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return fmt.Errorf("malformed signature header")
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed signature timestamp: %w", err)
	}
	age := now.Sub(time.Unix(unix, 0))
	if age > SignatureTolerance || age < -SignatureTolerance {
		return fmt.Errorf("signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// Sign produces the signature header for a payload. Used by tests and
// local tooling that plays the processor's role.
func Sign(secret string, payload []byte, now time.Time) string {
	ts := strconv.FormatInt(now.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

type rawEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type rawPayment struct {
	PaymentID      string                 `json:"payment_id"`
	CheckoutID     string                 `json:"checkout_id"`
	Amount         int64                  `json:"amount"`
	Currency       string                 `json:"currency"`
	Customer       domain.CustomerDetails `json:"customer"`
	SubscriptionID string                 `json:"subscription_id"`
}

type rawRefund struct {
	PaymentID string `json:"payment_id"`
}

type rawSubscription struct {
	SubscriptionID string `json:"subscription_id"`
}

type rawAccount struct {
	AccountID        string `json:"account_id"`
	DetailsSubmitted bool   `json:"details_submitted"`
	ChargesEnabled   bool   `json:"charges_enabled"`
}

// ParseEvent decodes a verified webhook payload into the closed event
// union. Unknown event types come back with only ID and Type set; the
// ingestor acknowledges and ignores them.
func ParseEvent(payload []byte) (*domain.Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	if raw.ID == "" {
		return nil, fmt.Errorf("event without id")
	}

	ev := &domain.Event{ID: raw.ID, Type: domain.EventType(raw.Type)}
	switch ev.Type {
	case domain.EventChargeSucceeded, domain.EventChargeFailed, domain.EventInvoicePaid:
		var p rawPayment
		if err := json.Unmarshal(raw.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s data: %w", raw.Type, err)
		}
		ev.Payment = &domain.PaymentEvent{
			PaymentID:      p.PaymentID,
			CheckoutID:     p.CheckoutID,
			Amount:         p.Amount,
			Currency:       p.Currency,
			Customer:       p.Customer,
			SubscriptionID: p.SubscriptionID,
		}
	case domain.EventChargeRefunded:
		var r rawRefund
		if err := json.Unmarshal(raw.Data, &r); err != nil {
			return nil, fmt.Errorf("decode %s data: %w", raw.Type, err)
		}
		ev.Refund = &domain.RefundEvent{PaymentID: r.PaymentID}
	case domain.EventSubscriptionCanceled:
		var s rawSubscription
		if err := json.Unmarshal(raw.Data, &s); err != nil {
			return nil, fmt.Errorf("decode %s data: %w", raw.Type, err)
		}
		ev.Subscription = &domain.SubscriptionEvent{SubscriptionID: s.SubscriptionID}
	case domain.EventAccountUpdated:
		var a rawAccount
		if err := json.Unmarshal(raw.Data, &a); err != nil {
			return nil, fmt.Errorf("decode %s data: %w", raw.Type, err)
		}
		ev.Account = &domain.AccountEvent{
			ProcessorID:      a.AccountID,
			DetailsSubmitted: a.DetailsSubmitted,
			ChargesEnabled:   a.ChargesEnabled,
		}
	}
	return ev, nil
}
