package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSplitConservesAmount(t *testing.T) {
	tests := []struct {
		amount     string
		commission string
		payout     string
	}{
		{"0.01", "0", "0.01"},
		{"100.00", "10", "90"},
		{"99.995", "10", "89.995"},
		{"1000.00", "100", "900"},
		{"0.05", "0", "0.05"},
		{"0.15", "0.02", "0.13"},
		{"0.25", "0.02", "0.23"},
		{"12345.67", "1234.57", "11111.10"},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			amount := decimal.RequireFromString(tt.amount)
			commission, payout, err := Split(amount, DefaultCommissionRate)
			if err != nil {
				t.Fatalf("Split: %v", err)
			}
			if !commission.Equal(decimal.RequireFromString(tt.commission)) {
				t.Fatalf("commission = %s, want %s", commission, tt.commission)
			}
			if !payout.Equal(decimal.RequireFromString(tt.payout)) {
				t.Fatalf("payout = %s, want %s", payout, tt.payout)
			}
			if !commission.Add(payout).Equal(amount) {
				t.Fatalf("commission %s + payout %s != %s", commission, payout, amount)
			}
		})
	}
}

func TestSplitRejectsInvalidRate(t *testing.T) {
	for _, rate := range []string{"-0.01", "1", "1.5"} {
		if _, _, err := Split(decimal.NewFromInt(100), decimal.RequireFromString(rate)); err != ErrInvalidRate {
			t.Fatalf("rate %s: expected ErrInvalidRate, got %v", rate, err)
		}
	}
}

func TestMinorUnits(t *testing.T) {
	if got := MinorUnits(decimal.RequireFromString("1000.00")); got != 100000 {
		t.Fatalf("MinorUnits = %d", got)
	}
	if got := MinorUnits(decimal.RequireFromString("0.015")); got != 2 {
		t.Fatalf("MinorUnits half-even = %d", got)
	}
}

func TestInMinorUnits(t *testing.T) {
	tests := []struct {
		amount string
		want   bool
	}{
		{"1000", true},
		{"0.01", true},
		{"12.50", true},
		{"1.000", true},
		{"0.001", false},
		{"99.995", false},
		{"10.0001", false},
	}
	for _, tt := range tests {
		if got := InMinorUnits(decimal.RequireFromString(tt.amount)); got != tt.want {
			t.Errorf("InMinorUnits(%s) = %v, want %v", tt.amount, got, tt.want)
		}
	}
}
