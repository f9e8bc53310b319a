// Package tax computes the two sales taxes applied to priced quantities.
// Tax A and tax B are charged independently per item flag (the source market's
// federal and provincial rates). All arithmetic is exact decimal so ledger
// totals and aggregated report totals reconcile to the cent.
package tax

import "github.com/shopspring/decimal"

// Default rates. Overridable through NewCalculator for jurisdictions with
// different rates.
var (
	DefaultRateA = decimal.RequireFromString("0.05")
	DefaultRateB = decimal.RequireFromString("0.06")
)

type Calculator struct {
	RateA decimal.Decimal
	RateB decimal.Decimal
}

func NewCalculator(rateA, rateB decimal.Decimal) Calculator {
	return Calculator{RateA: rateA, RateB: rateB}
}

func Default() Calculator {
	return Calculator{RateA: DefaultRateA, RateB: DefaultRateB}
}

// Compute returns the tax A and tax B amounts for quantity units at the given
// unit price. A disabled flag yields a zero amount. Never fails.
func (c Calculator) Compute(price decimal.Decimal, quantity int64, flagA, flagB bool) (taxA, taxB decimal.Decimal) {
	base := price.Mul(decimal.NewFromInt(quantity))
	taxA = decimal.Zero
	taxB = decimal.Zero
	if flagA {
		taxA = base.Mul(c.RateA)
	}
	if flagB {
		taxB = base.Mul(c.RateB)
	}
	return taxA, taxB
}

// Line returns subtotal, both taxes and the line total for a priced quantity.
func (c Calculator) Line(price decimal.Decimal, quantity int64, flagA, flagB bool) (subtotal, taxA, taxB, total decimal.Decimal) {
	subtotal = price.Mul(decimal.NewFromInt(quantity))
	taxA, taxB = c.Compute(price, quantity, flagA, flagB)
	total = subtotal.Add(taxA).Add(taxB)
	return subtotal, taxA, taxB, total
}
