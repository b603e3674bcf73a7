package payment

import (
	"fmt"
	"math/big"
	"strings"
)

// ParseUnits converts a decimal amount such as "1.00" into the token's smallest
// unit. More fractional digits than the token carries is an error rather than a
// silent truncation.
func ParseUnits(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("payment: empty amount")
	}
	if strings.HasPrefix(amount, "-") || strings.HasPrefix(amount, "+") {
		return nil, fmt.Errorf("payment: signed amount %q", amount)
	}

	whole, frac, _ := strings.Cut(amount, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("payment: %q has more than %d decimals", amount, decimals)
	}
	digits := whole + frac + strings.Repeat("0", decimals-len(frac))
	for _, c := range digits {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("payment: invalid amount %q", amount)
		}
	}

	units, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("payment: invalid amount %q", amount)
	}
	return units, nil
}

// FormatUnits renders smallest-unit amounts back as a decimal string with
// exactly decimals fractional digits.
func FormatUnits(units *big.Int, decimals int) string {
	s := units.String()
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	out := s[:len(s)-decimals]
	if decimals > 0 {
		out += "." + s[len(s)-decimals:]
	}
	if neg {
		out = "-" + out
	}
	return out
}
