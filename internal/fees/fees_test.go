package fees

import (
	"testing"

	"github.com/lumapay/linkledger/internal/domain"
)

func TestCalculateWorkedExample(t *testing.T) {
	// 5% + 50 fixed on 999: percentage part rounds 49.95 up to 50.
	split, err := Calculate(999, "usd", Config{BasisPoints: 500, FixedFee: 50})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if split.ServiceFee != 100 {
		t.Errorf("ServiceFee = %d, want 100", split.ServiceFee)
	}
	if split.Net != 899 {
		t.Errorf("Net = %d, want 899", split.Net)
	}
}

func TestCalculateRoundHalfUp(t *testing.T) {
	cases := []struct {
		amount int64
		bps    int64
		fixed  int64
		fee    int64
	}{
		{1000, 500, 0, 50},  // exact
		{999, 500, 0, 50},   // 49.95 -> 50
		{990, 500, 0, 50},   // 49.50 -> 50, half rounds up
		{989, 500, 0, 49},   // 49.45 -> 49
		{1, 500, 0, 0},      // 0.05 -> 0
		{10, 500, 0, 1},     // 0.50 -> 1
		{100, 0, 30, 30},    // fixed only
		{100, 250, 30, 33},  // 2.50 -> 3, plus fixed
		{1, 10000, 0, 1},    // 100% of 1
	}
	for _, c := range cases {
		split, err := Calculate(c.amount, "usd", Config{BasisPoints: c.bps, FixedFee: c.fixed})
		if err != nil {
			t.Fatalf("Calculate(%d, bps=%d, fixed=%d): %v", c.amount, c.bps, c.fixed, err)
		}
		if split.ServiceFee != c.fee {
			t.Errorf("Calculate(%d, bps=%d, fixed=%d) fee = %d, want %d", c.amount, c.bps, c.fixed, split.ServiceFee, c.fee)
		}
	}
}

func TestCalculateReconstructsGross(t *testing.T) {
	cfgs := []Config{
		{BasisPoints: 0, FixedFee: 0},
		{BasisPoints: 500, FixedFee: 0},
		{BasisPoints: 500, FixedFee: 50},
		{BasisPoints: 290, FixedFee: 30},
		{BasisPoints: 10000, FixedFee: 0},
	}
	currencies := []string{"usd", "eur", "gbp", "jpy"}
	for _, cfg := range cfgs {
		for _, cur := range currencies {
			for amount := int64(1); amount <= 5000; amount++ {
				split, err := Calculate(amount, cur, cfg)
				if err != nil {
					// Fee exceeding the amount is a legal rejection, not
					// a reconstruction failure.
					if domain.IsValidation(err) {
						continue
					}
					t.Fatalf("Calculate(%d, %s, %+v): %v", amount, cur, cfg, err)
				}
				if split.ServiceFee+split.Net != amount {
					t.Fatalf("fee %d + net %d != amount %d (cfg %+v)", split.ServiceFee, split.Net, amount, cfg)
				}
				if split.Net < 0 {
					t.Fatalf("negative net %d for amount %d (cfg %+v)", split.Net, amount, cfg)
				}
			}
		}
	}
}

func TestCalculateRejectsBadInput(t *testing.T) {
	if _, err := Calculate(0, "usd", Config{BasisPoints: 500}); !domain.IsValidation(err) {
		t.Errorf("zero amount: got %v, want validation error", err)
	}
	if _, err := Calculate(-5, "usd", Config{BasisPoints: 500}); !domain.IsValidation(err) {
		t.Errorf("negative amount: got %v, want validation error", err)
	}
	if _, err := Calculate(100, "", Config{BasisPoints: 500}); !domain.IsValidation(err) {
		t.Errorf("empty currency: got %v, want validation error", err)
	}
	// Fixed fee alone exceeds the amount.
	if _, err := Calculate(40, "usd", Config{BasisPoints: 0, FixedFee: 50}); !domain.IsValidation(err) {
		t.Errorf("fee over amount: got %v, want validation error", err)
	}
}
