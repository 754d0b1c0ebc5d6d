// Package token provides overflow-checked arithmetic for token amounts.
//
// Amounts are unsigned 64-bit integers in base units (1 token = 1,000,000
// units). All arithmetic is checked: overflow is surfaced as an error,
// never wrapped or clamped.
package token

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
)

// Decimals is the number of base-unit decimal places per whole token.
const Decimals = 6

// MaxBps is the maximum fee expressible in basis points (100%).
const MaxBps = 10_000

var (
	ErrArithmeticOverflow = errors.New("token: arithmetic overflow")
	ErrInvalidBps         = errors.New("token: basis points out of range")
	ErrInvalidPercent     = errors.New("token: percent out of range")
)

// CheckedAdd returns a+b, or ErrArithmeticOverflow if the sum wraps.
func CheckedAdd(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, ErrArithmeticOverflow
	}
	return a + b, nil
}

// CheckedSub returns a-b, or ErrArithmeticOverflow if b > a.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrArithmeticOverflow
	}
	return a - b, nil
}

// CheckedMul returns a*b, or ErrArithmeticOverflow if the product wraps.
func CheckedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrArithmeticOverflow
	}
	return lo, nil
}

// FeeBps computes amount * bps / 10000, rounding down. The intermediate
// product uses 128-bit arithmetic so the fee on any valid uint64 amount
// never overflows.
func FeeBps(amount uint64, bps uint16) (uint64, error) {
	if bps > MaxBps {
		return 0, ErrInvalidBps
	}
	hi, lo := bits.Mul64(amount, uint64(bps))
	fee, _ := bits.Div64(hi, lo, MaxBps)
	return fee, nil
}

// SplitPercent divides amount into a payer share (pct%) and a recipient
// share (the remainder). Rounding favors the recipient: the payer share is
// floored, so the two shares always sum exactly to amount.
func SplitPercent(amount uint64, pct uint8) (payerShare, recipientShare uint64, err error) {
	if pct > 100 {
		return 0, 0, ErrInvalidPercent
	}
	hi, lo := bits.Mul64(amount, uint64(pct))
	payerShare, _ = bits.Div64(hi, lo, 100)
	return payerShare, amount - payerShare, nil
}

// Format renders a base-unit amount as a decimal string with exactly
// six decimal places (e.g. 1500000 -> "1.500000").
func Format(amount uint64) string {
	return fmt.Sprintf("%d.%06d", amount/1_000_000, amount%1_000_000)
}
