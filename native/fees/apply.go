package fees

import (
	"fmt"
	"math/big"
)

// Denominator is the basis-point scale fee rates are expressed in.
const Denominator = 10_000

// ValidateBps reports whether bps is a usable platform fee rate: strictly
// positive and not above the denominator.
func ValidateBps(bps uint32) error {
	if bps == 0 {
		return fmt.Errorf("fees: rate must be greater than 0")
	}
	if bps > Denominator {
		return fmt.Errorf("fees: rate %d exceeds %d", bps, Denominator)
	}
	return nil
}

// SplitResult summarises how a gross payment is divided between the platform
// and the counterparty.
type SplitResult struct {
	Gross *big.Int
	Fee   *big.Int
	Net   *big.Int
	Bps   uint32
}

// Split computes fee = gross * bps / Denominator (rounded down) and the net
// remainder. Nil or non-positive gross amounts yield zero values. Rates above
// the denominator are capped so the net amount never goes negative.
func Split(gross *big.Int, bps uint32) SplitResult {
	result := SplitResult{Gross: big.NewInt(0), Fee: big.NewInt(0), Net: big.NewInt(0), Bps: bps}
	if gross == nil || gross.Sign() <= 0 {
		return result
	}
	result.Gross = new(big.Int).Set(gross)
	if bps > Denominator {
		bps = Denominator
	}
	fee := new(big.Int).Mul(gross, big.NewInt(int64(bps)))
	fee.Div(fee, big.NewInt(Denominator))
	result.Fee = fee
	result.Net = new(big.Int).Sub(gross, fee)
	return result
}

// Totals aggregates fee accounting across settlements.
type Totals struct {
	Count uint64
	Gross *big.Int
	Fee   *big.Int
	Net   *big.Int
}

// Add folds a split into the running totals.
func (t *Totals) Add(split SplitResult) {
	if t.Gross == nil {
		t.Gross = big.NewInt(0)
		t.Fee = big.NewInt(0)
		t.Net = big.NewInt(0)
	}
	t.Count++
	t.Gross.Add(t.Gross, split.Gross)
	t.Fee.Add(t.Fee, split.Fee)
	t.Net.Add(t.Net, split.Net)
}
