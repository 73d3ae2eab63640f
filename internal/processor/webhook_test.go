package processor

import (
	"testing"
	"time"

	"github.com/lumapay/linkledger/internal/domain"
)

func TestVerifySignatureRoundTrip(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"charge.succeeded"}`)
	now := time.Now()
	header := Sign("whsec_test", payload, now)

	if err := VerifySignature("whsec_test", payload, header, now); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
	if err := VerifySignature("whsec_other", payload, header, now); err == nil {
		t.Error("wrong secret accepted")
	}
	if err := VerifySignature("whsec_test", []byte(`tampered`), header, now); err == nil {
		t.Error("tampered payload accepted")
	}
	if err := VerifySignature("whsec_test", payload, "v1=deadbeef", now); err == nil {
		t.Error("header without timestamp accepted")
	}
	if err := VerifySignature("whsec_test", payload, header, now.Add(SignatureTolerance+time.Minute)); err == nil {
		t.Error("stale signature accepted")
	}
}

func TestParseEventVariants(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		check   func(t *testing.T, ev *domain.Event)
	}{
		{
			name:    "charge succeeded",
			payload: `{"id":"evt_1","type":"charge.succeeded","data":{"payment_id":"pay_1","checkout_id":"co_1","amount":999,"currency":"usd","customer":{"email":"a@b.c"}}}`,
			check: func(t *testing.T, ev *domain.Event) {
				if ev.Payment == nil {
					t.Fatal("Payment not set")
				}
				if ev.Payment.PaymentID != "pay_1" || ev.Payment.Amount != 999 || ev.Payment.Customer.Email != "a@b.c" {
					t.Errorf("payment = %+v", ev.Payment)
				}
			},
		},
		{
			name:    "charge refunded",
			payload: `{"id":"evt_2","type":"charge.refunded","data":{"payment_id":"pay_1"}}`,
			check: func(t *testing.T, ev *domain.Event) {
				if ev.Refund == nil || ev.Refund.PaymentID != "pay_1" {
					t.Errorf("refund = %+v", ev.Refund)
				}
			},
		},
		{
			name:    "subscription canceled",
			payload: `{"id":"evt_3","type":"subscription.canceled","data":{"subscription_id":"sub_1"}}`,
			check: func(t *testing.T, ev *domain.Event) {
				if ev.Subscription == nil || ev.Subscription.SubscriptionID != "sub_1" {
					t.Errorf("subscription = %+v", ev.Subscription)
				}
			},
		},
		{
			name:    "account updated",
			payload: `{"id":"evt_4","type":"account.updated","data":{"account_id":"acct_1","details_submitted":true,"charges_enabled":true}}`,
			check: func(t *testing.T, ev *domain.Event) {
				if ev.Account == nil {
					t.Fatal("Account not set")
				}
				if got := ev.Account.VerificationStatus(); got != domain.AccountVerified {
					t.Errorf("status = %s, want VERIFIED", got)
				}
			},
		},
		{
			name:    "unknown type",
			payload: `{"id":"evt_5","type":"balance.available","data":{}}`,
			check: func(t *testing.T, ev *domain.Event) {
				if ev.Payment != nil || ev.Refund != nil || ev.Subscription != nil || ev.Account != nil {
					t.Errorf("unknown type decoded a payload: %+v", ev)
				}
			},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ev, err := ParseEvent([]byte(c.payload))
			if err != nil {
				t.Fatalf("ParseEvent: %v", err)
			}
			c.check(t, ev)
		})
	}

	if _, err := ParseEvent([]byte(`{"type":"charge.succeeded"}`)); err == nil {
		t.Error("event without id accepted")
	}
}
