// Package core provides the domain records of the dashboard and the money
// parsing and formatting helpers shared by every layer.
//
// Amounts are shopspring decimals end to end so that summing a table never
// drifts from the uploaded values; only the compound-rate exponent goes
// through float64.
package core

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// CurrencyPrefix is prepended to formatted amounts.
const CurrencyPrefix = "R$"

// ParseAmount converts a locale-dependent decimal string to a decimal.
//
// Both dot and comma are accepted as decimal separator. When both appear,
// the rightmost one is the decimal separator and the other groups thousands.
// A leading currency symbol and a sign are allowed, as is a trailing
// exponent ("1e3", "2,5E-2") whose magnitude fits a float64.
//
// Examples:
//
//	ParseAmount("1234.56")    -> 1234.56
//	ParseAmount("1234,56")    -> 1234.56
//	ParseAmount("1.234,56")   -> 1234.56
//	ParseAmount("R$ -1,234.5") -> -1234.5
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(strings.TrimPrefix(s, CurrencyPrefix))
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	s = strings.TrimSpace(s)

	s, exp, ok := cutExponent(s)
	if !ok {
		return decimal.Zero, ErrInvalidAmount
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	if s == "" || s == "." {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' {
			return decimal.Zero, ErrInvalidAmount
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if exp != 0 {
		d = d.Shift(exp)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

// maxExponent bounds scientific notation to the float64 range.
const maxExponent = 308

// cutExponent splits "mantissa[eE][+-]digits" and parses the exponent.
func cutExponent(s string) (string, int32, bool) {
	i := strings.IndexAny(s, "eE")
	if i < 0 {
		return s, 0, true
	}
	digits := s[i+1:]
	if digits != "" && (digits[0] == '+' || digits[0] == '-') {
		digits = digits[1:]
	}
	if digits == "" || len(digits) > 3 {
		return "", 0, false
	}
	exp := 0
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", 0, false
		}
		exp = exp*10 + int(r-'0')
	}
	if exp > maxExponent {
		return "", 0, false
	}
	if s[i+1] == '-' {
		exp = -exp
	}
	return s[:i], int32(exp), true
}

// FormatCurrency renders an amount as "R$ 1234.56".
func FormatCurrency(d decimal.Decimal) string {
	return CurrencyPrefix + " " + d.StringFixedBank(2)
}

// FormatNullCurrency renders an optional amount; undefined renders as "".
func FormatNullCurrency(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return FormatCurrency(d.Decimal)
}

// FormatPercent renders a ratio as a percentage: 0.1234 -> "12.34%".
func FormatPercent(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return fmt.Sprintf("%s%%", d.Decimal.Shift(2).StringFixedBank(2))
}
