package fx

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/consolbatch/internal/ledger"
)

func amt(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestConvertUsesAverageForPLAndClosingForBS(t *testing.T) {
	converter := NewConverter(DefaultPolicy("usd"), map[string]Quote{
		"EURUSD": {Average: 1.1, Closing: 1.2},
	})
	lines, diff, err := converter.Convert([]ledger.Line{
		{Account: "4000", Type: ledger.TypePL, Amount: amt("100")},
		{Account: "1000", Type: ledger.TypeBS, Amount: amt("-100")},
	}, "eur")
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if !lines[0].Amount.Equal(amt("110")) {
		t.Fatalf("expected P&L at average 110, got %s", lines[0].Amount)
	}
	if !lines[1].Amount.Equal(amt("-120")) {
		t.Fatalf("expected BS at closing -120, got %s", lines[1].Amount)
	}
	if !diff.Equal(amt("-10")) {
		t.Fatalf("expected translation difference -10, got %s", diff)
	}
}

func TestConvertParityIsNoop(t *testing.T) {
	converter := NewConverter(DefaultPolicy("USD"), nil)
	in := []ledger.Line{{Account: "4000", Type: ledger.TypePL, Amount: amt("50")}}
	lines, diff, err := converter.Convert(in, "USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !lines[0].Amount.Equal(amt("50")) || !diff.IsZero() {
		t.Fatalf("expected untouched line, got %s diff %s", lines[0].Amount, diff)
	}
}

func TestConvertMissingRate(t *testing.T) {
	converter := NewConverter(DefaultPolicy("USD"), map[string]Quote{"JPYUSD": {Average: 0, Closing: 0.0095}})
	_, _, err := converter.Convert([]ledger.Line{{Account: "4000", Type: ledger.TypePL, Amount: amt("1")}}, "JPY")
	var missing *MissingRateError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingRateError got %T", err)
	}
	if missing.Pair != "JPYUSD" || missing.Method != MethodAverage {
		t.Fatalf("unexpected missing rate %+v", missing)
	}

	_, _, err = converter.Convert(nil, "CHF")
	if !errors.As(err, &missing) || missing.Pair != "CHFUSD" {
		t.Fatalf("expected missing CHFUSD, got %v", err)
	}
}
