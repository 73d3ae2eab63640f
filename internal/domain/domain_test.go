package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestLinkStatusTerminal(t *testing.T) {
	cases := []struct {
		status LinkStatus
		want   bool
	}{
		{LinkActive, false},
		{LinkDisabled, true},
		{LinkExpired, true},
	}
	for _, c := range cases {
		if got := c.status.Terminal(); got != c.want {
			t.Errorf("Terminal(%s) = %v, want %v", c.status, got, c.want)
		}
	}
}

func TestAccountStatusRank(t *testing.T) {
	if AccountNew.Rank() >= AccountRestricted.Rank() {
		t.Error("NEW must rank below RESTRICTED")
	}
	if AccountRestricted.Rank() >= AccountVerified.Rank() {
		t.Error("RESTRICTED must rank below VERIFIED")
	}
}

func TestAccountEventVerificationStatus(t *testing.T) {
	cases := []struct {
		details, charges bool
		want             AccountStatus
	}{
		{false, false, AccountNew},
		{true, false, AccountRestricted},
		{false, true, AccountNew},
		{true, true, AccountVerified},
	}
	for _, c := range cases {
		e := &AccountEvent{DetailsSubmitted: c.details, ChargesEnabled: c.charges}
		if got := e.VerificationStatus(); got != c.want {
			t.Errorf("VerificationStatus(details=%v charges=%v) = %s, want %s", c.details, c.charges, got, c.want)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	base := errors.New("boom")

	if !IsRetryable(Transient(base)) {
		t.Error("Transient error not classified retryable")
	}
	if IsRetryable(Permanent(base)) {
		t.Error("Permanent error classified retryable")
	}
	if !IsValidation(Validationf("amount", "must be positive")) {
		t.Error("validation error not recognized")
	}
	if !IsConflict(Conflictf("already_refunded")) {
		t.Error("conflict error not recognized")
	}

	// Wrapping must survive classification.
	wrapped := fmt.Errorf("ingest: %w", Transient(base))
	if !IsRetryable(wrapped) {
		t.Error("wrapped transient error not classified retryable")
	}
	if !errors.Is(wrapped, base) {
		t.Error("cause lost through Transient wrapper")
	}
}

func TestIntervalValid(t *testing.T) {
	for _, i := range []RecurringInterval{IntervalDay, IntervalWeek, IntervalMonth, IntervalYear} {
		if !i.Valid() {
			t.Errorf("interval %q reported invalid", i)
		}
	}
	if RecurringInterval("fortnight").Valid() {
		t.Error("unknown interval reported valid")
	}
}
