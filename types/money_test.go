package types

import (
	"encoding/json"
	"testing"
)

func TestMoneyString(t *testing.T) {
	tests := []struct {
		name    string
		money   Money
		display string
		major   string
	}{
		{"weekly price", USD(999), "$9.99", "9.99"},
		{"monthly price", USD(2499), "$24.99", "24.99"},
		{"zero", Zero("USD"), "$0.00", "0.00"},
		{"negative", USD(-150), "$-1.50", "-1.50"},
		{"zero decimal", Money{Amount: 500, Currency: "jpy"}, "¥500", "500"},
		{"unknown currency", Money{Amount: 1000, Currency: "chf"}, "CHF 10.00", "10.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.money.String(); got != tt.display {
				t.Errorf("String: got %s, want %s", got, tt.display)
			}
			if got := tt.money.FormatMajor(); got != tt.major {
				t.Errorf("FormatMajor: got %s, want %s", got, tt.major)
			}
		})
	}
}

func TestMoneyComparison(t *testing.T) {
	if !USD(999).Equal(Money{Amount: 999, Currency: "USD"}) {
		t.Error("expected currency comparison to ignore case")
	}
	if USD(999).Equal(USD(2499)) {
		t.Error("different amounts must not be equal")
	}
	if !USD(1).IsPositive() || USD(0).IsPositive() {
		t.Error("IsPositive mismatch")
	}
	if !Zero("usd").IsZero() {
		t.Error("Zero should be zero")
	}
}

func TestMoneyMarshalJSON(t *testing.T) {
	data, err := json.Marshal(USD(2499))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["display"] != "$24.99" {
		t.Errorf("display: got %v", out["display"])
	}
	if out["amount"] != float64(2499) {
		t.Errorf("amount: got %v", out["amount"])
	}
}
