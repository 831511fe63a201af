package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewNormalizesCurrency(t *testing.T) {
	tests := []struct {
		name     string
		currency string
		want     string
	}{
		{"upper", "EUR", "eur"},
		{"padded", " usd ", "usd"},
		{"empty", "", DefaultCurrency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := New(100, tt.currency).Currency; got != tt.want {
				t.Errorf("currency: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProrate(t *testing.T) {
	tests := []struct {
		name        string
		amount      int64
		part, whole int64
		want        int64
	}{
		{"two thirds", 3000, 2400, 3600, 2000},
		{"floors", 1000, 1, 3, 333},
		{"full", 4900, 600, 600, 4900},
		{"zero part", 4900, 0, 600, 0},
		{"zero whole", 4900, 10, 0, 0},
		{"negative whole", 4900, 10, -5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := USD(tt.amount).Prorate(tt.part, tt.whole)
			if got.Amount != tt.want {
				t.Errorf("Prorate(%d, %d) = %d, want %d", tt.part, tt.whole, got.Amount, tt.want)
			}
			if got.Currency != "usd" {
				t.Errorf("currency lost: %q", got.Currency)
			}
		})
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		amount, lo, hi, want int64
	}{
		{-5, 0, 100, 0},
		{50, 0, 100, 50},
		{150, 0, 100, 100},
		{10, 20, 5, 20},
	}

	for _, tt := range tests {
		if got := USD(tt.amount).Clamp(tt.lo, tt.hi).Amount; got != tt.want {
			t.Errorf("Clamp(%d into [%d,%d]) = %d, want %d", tt.amount, tt.lo, tt.hi, got, tt.want)
		}
	}
}

func TestArithmetic(t *testing.T) {
	a, b := USD(1500), USD(700)

	if got := a.Add(b).Amount; got != 2200 {
		t.Errorf("Add = %d", got)
	}
	if got := a.Subtract(b).Amount; got != 800 {
		t.Errorf("Subtract = %d", got)
	}
	if got := a.Min(b); got != b {
		t.Errorf("Min = %v", got)
	}
	if got := a.Max(b); got != a {
		t.Errorf("Max = %v", got)
	}
}

func TestCurrencyMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on currency mismatch")
		}
	}()
	USD(1).Add(New(1, "eur"))
}

func TestFormat(t *testing.T) {
	tests := []struct {
		money Money
		want  string
	}{
		{USD(4900), "49.00 USD"},
		{USD(5), "0.05 USD"},
		{USD(-250), "-2.50 USD"},
		{New(100, "jpy"), "100 JPY"},
	}

	for _, tt := range tests {
		if got := tt.money.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestJSON(t *testing.T) {
	data, err := json.Marshal(USD(1999))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Money
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != USD(1999) {
		t.Errorf("round trip: got %v", back)
	}
}

func TestEntityTimestamps(t *testing.T) {
	loc := time.FixedZone("x", 3600)
	created := time.Date(2025, 1, 1, 12, 0, 0, 0, loc)

	e := NewEntity(created)
	if e.CreatedAt.Location() != time.UTC || !e.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt not normalized: %v", e.CreatedAt)
	}

	later := created.Add(time.Hour)
	e.Touch(later)
	if !e.UpdatedAt.Equal(later) || !e.CreatedAt.Equal(created) {
		t.Errorf("Touch: created=%v updated=%v", e.CreatedAt, e.UpdatedAt)
	}
}
