package tax

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestComputeBothFlagsEnabled(t *testing.T) {
	calc := Default()

	subtotal, taxA, taxB, total := calc.Line(decimal.RequireFromString("10.00"), 3, true, true)
	if !subtotal.Equal(decimal.RequireFromString("30.00")) {
		t.Fatalf("expected subtotal 30.00, got %s", subtotal)
	}
	if !taxA.Equal(decimal.RequireFromString("1.50")) {
		t.Fatalf("expected tax A 1.50, got %s", taxA)
	}
	if !taxB.Equal(decimal.RequireFromString("1.80")) {
		t.Fatalf("expected tax B 1.80, got %s", taxB)
	}
	if !total.Equal(decimal.RequireFromString("33.30")) {
		t.Fatalf("expected total 33.30, got %s", total)
	}
}

func TestComputeFlagsDisableTaxes(t *testing.T) {
	calc := Default()
	price := decimal.RequireFromString("4.25")

	taxA, taxB := calc.Compute(price, 2, false, true)
	if !taxA.IsZero() {
		t.Fatalf("expected zero tax A when flag disabled, got %s", taxA)
	}
	if !taxB.Equal(decimal.RequireFromString("0.51")) {
		t.Fatalf("expected tax B 0.51, got %s", taxB)
	}

	taxA, taxB = calc.Compute(price, 2, false, false)
	if !taxA.IsZero() || !taxB.IsZero() {
		t.Fatalf("expected both taxes zero, got %s / %s", taxA, taxB)
	}
}

func TestComputeNegativeQuantityForReturns(t *testing.T) {
	calc := Default()

	taxA, taxB := calc.Compute(decimal.RequireFromString("10.00"), -1, true, true)
	if !taxA.Equal(decimal.RequireFromString("-0.50")) {
		t.Fatalf("expected tax A -0.50 on returned unit, got %s", taxA)
	}
	if !taxB.Equal(decimal.RequireFromString("-0.60")) {
		t.Fatalf("expected tax B -0.60 on returned unit, got %s", taxB)
	}
}

func TestCustomRates(t *testing.T) {
	calc := NewCalculator(decimal.RequireFromString("0.10"), decimal.Zero)

	taxA, taxB := calc.Compute(decimal.RequireFromString("5.00"), 1, true, true)
	if !taxA.Equal(decimal.RequireFromString("0.50")) {
		t.Fatalf("expected tax A 0.50 at 10%%, got %s", taxA)
	}
	if !taxB.IsZero() {
		t.Fatalf("expected zero tax B at zero rate, got %s", taxB)
	}
}
