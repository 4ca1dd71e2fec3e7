/**
 * @description
 * Amount parsing and arithmetic for the chain's native currency. Chat commands
 * carry decimal NIM strings; internally every amount is a Luna (int64 count of
 * the smallest chain unit) so that splitting and comparisons stay exact.
 *
 * @dependencies
 * - github.com/shopspring/decimal: Exact decimal parsing of user input.
 */

package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Luna is an amount in the chain's smallest unit. 1 NIM = 100,000 luna.
type Luna int64

// LunaPerNIM is the number of smallest units in one whole coin.
const LunaPerNIM = 100_000

// MaxAmountFractionDigits bounds the fractional digits accepted from chat
// input. Anything finer than the smallest chain unit is floored away.
const MaxAmountFractionDigits = 6

var (
	ErrAmountEmpty        = errors.New("amount is empty")
	ErrAmountUnparseable  = errors.New("amount is not a valid number")
	ErrAmountNotPositive  = errors.New("amount must be greater than zero")
	ErrAmountTooPrecise   = errors.New("amount has too many decimal places")
	ErrAmountBelowMinimum = errors.New("amount is below the minimum transferable amount")
)

var lunaPerNIMDecimal = decimal.NewFromInt(LunaPerNIM)

// ParseAmount converts a decimal NIM string from chat input into luna.
// It accepts up to six fractional digits, rejects empty, unparseable, zero and
// negative input, and rejects amounts below the given dust threshold. The
// parsed value is floored to the smallest chain unit.
func ParseAmount(raw string, dust Luna) (Luna, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, ErrAmountEmpty
	}

	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, ErrAmountUnparseable
	}
	if d.Exponent() < -MaxAmountFractionDigits {
		return 0, ErrAmountTooPrecise
	}
	if d.Sign() <= 0 {
		return 0, ErrAmountNotPositive
	}

	luna := Luna(d.Mul(lunaPerNIMDecimal).IntPart())
	if luna <= 0 {
		return 0, ErrAmountBelowMinimum
	}
	if luna < dust {
		return 0, ErrAmountBelowMinimum
	}
	return luna, nil
}

// SplitEvenly divides a total across n recipients, rounded down to the
// smallest chain unit. The leftover remainder is neither redistributed nor
// refunded; callers that need it can compute total - share*n themselves.
func SplitEvenly(total Luna, n int) (Luna, error) {
	if n <= 0 {
		return 0, fmt.Errorf("cannot split across %d recipients", n)
	}
	if total <= 0 {
		return 0, ErrAmountNotPositive
	}
	share := total / Luna(n)
	if share <= 0 {
		return 0, ErrAmountBelowMinimum
	}
	return share, nil
}

// FormatNIM renders a luna amount as a decimal NIM string with trailing zeros
// trimmed, e.g. 333333 luna -> "3.33333" and 500000 luna -> "5".
func FormatNIM(amount Luna) string {
	return decimal.NewFromInt(int64(amount)).Div(lunaPerNIMDecimal).String()
}

// String implements fmt.Stringer for log lines.
func (l Luna) String() string {
	return FormatNIM(l) + " NIM"
}
