package tradeevent

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func row(t *testing.T, fields map[string]any) (map[string]any, json.RawMessage) {
	t.Helper()
	raw, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return fields, raw
}

// Rows with a truthy voided flag (bool true or the string "true") must be
// rejected; only a strictly-false voided flag survives normalization.
func TestNormalizeVoidedRejection(t *testing.T) {
	t.Parallel()
	fixtures := []struct {
		pnl    float64
		voided any
		want   bool
	}{
		{825, false, true},
		{-30, true, false},
		{-6255, "true", false},
	}

	var kept []Event
	for i, f := range fixtures {
		fields, raw := row(t, map[string]any{
			"id":                "1",
			"orderId":           "ord-1",
			"contractId":        "CON.F.US.ES",
			"creationTimestamp": "2026-02-05T19:49:57.221850Z",
			"profitAndLoss":     f.pnl,
			"voided":            f.voided,
		})
		ev, ok := Normalize(100, fields, raw)
		if ok != f.want {
			t.Fatalf("fixture %d: Normalize ok=%v, want %v", i, ok, f.want)
		}
		if ok {
			kept = append(kept, ev)
		}
	}

	if len(kept) != 1 {
		t.Fatalf("expected exactly 1 surviving row, got %d", len(kept))
	}
	if !kept[0].PnL.Equal(decimal.NewFromFloat(825)) {
		t.Errorf("surviving row pnl = %v, want 825", kept[0].PnL)
	}
}

func TestNormalizeFallbackOrderID(t *testing.T) {
	t.Parallel()
	fields, raw := row(t, map[string]any{
		"creationTimestamp": "2026-01-01T00:00:00Z",
		"size":              float64(2),
		"price":             float64(100.5),
	})
	ev, ok := Normalize(1, fields, raw)
	if !ok {
		t.Fatal("expected normalization to succeed")
	}
	if ev.OrderID == "" {
		t.Error("expected a synthesized fallback order id")
	}
	if ev.ContractID != "UNKNOWN" {
		t.Errorf("ContractID = %q, want UNKNOWN", ev.ContractID)
	}
	if ev.Symbol != "UNKNOWN" {
		t.Errorf("Symbol = %q, want fallback to ContractID", ev.Symbol)
	}
	if ev.PnL != nil {
		t.Error("expected nil PnL for an open-leg row")
	}
}

func TestNormalizeUnparseableTimestampRejected(t *testing.T) {
	t.Parallel()
	fields, raw := row(t, map[string]any{
		"creationTimestamp": "not-a-timestamp",
	})
	if _, ok := Normalize(1, fields, raw); ok {
		t.Error("expected rejection for unparseable timestamp")
	}
}

func TestIsVoided(t *testing.T) {
	t.Parallel()
	cases := []struct {
		payload string
		want    bool
	}{
		{`{"voided": true}`, true},
		{`{"voided": "true"}`, true},
		{`{"voided": "1"}`, true},
		{`{"voided": false}`, false},
		{`{"voided": "false"}`, false},
		{`{}`, false},
		{``, false},
	}
	for _, c := range cases {
		if got := IsVoided([]byte(c.payload)); got != c.want {
			t.Errorf("IsVoided(%q) = %v, want %v", c.payload, got, c.want)
		}
	}
}
