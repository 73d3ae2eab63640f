// Package fees computes the platform's split of a gross charge. All amounts
// are integer minor units; the arithmetic is exact, no floating point.
package fees

import (
	"github.com/lumapay/linkledger/internal/domain"
)

// Config is the platform fee schedule: a percentage expressed in basis
// points plus a fixed fee in minor units.
type Config struct {
	BasisPoints int64
	FixedFee    int64
}

// Split is the outcome of applying the schedule to a gross amount.
type Split struct {
	ServiceFee int64 `json:"service_fee"`
	Net        int64 `json:"net_amount"`
}

// Calculate splits amount into the platform fee and the merchant net.
//
//	fee = roundHalfUp(amount * bps / 10000) + fixed
//	net = amount - fee
//
// The percentage component rounds half-up toward the platform, so
// fee + net == amount holds for every positive amount. A split that would
// leave net below zero is rejected.
func Calculate(amount int64, currency string, cfg Config) (Split, error) {
	if amount <= 0 {
		return Split{}, domain.Validationf("amount", "must be positive, got %d", amount)
	}
	if currency == "" {
		return Split{}, domain.Validationf("currency", "must not be empty")
	}

	fee := (amount*cfg.BasisPoints+5000)/10000 + cfg.FixedFee
	net := amount - fee
	if net < 0 {
		return Split{}, domain.Validationf("amount", "fee %d exceeds amount %d %s", fee, amount, currency)
	}
	return Split{ServiceFee: fee, Net: net}, nil
}
