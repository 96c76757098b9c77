// Package core holds the domain model shared by storage, services and the
// HTTP layer: accounts, transactions, fixed-point money and validation.
//
// Monetary values are int64 cents throughout. Floats never enter balance
// arithmetic; decimal strings are parsed here and rejected rather than
// rounded when they carry more than two fractional digits.
package core

import (
	"strconv"
	"strings"
	"unicode"
)

// ParseAmountToCents converts a strictly positive decimal string to cents.
// Both dot (12.34) and comma (12,34) separators are accepted. At most two
// fractional digits are allowed.
//
// Examples:
//
//	ParseAmountToCents("12.34") -> 1234, nil
//	ParseAmountToCents("12,3")  -> 1230, nil
//	ParseAmountToCents("12.345") -> 0, ErrInvalidAmount
func ParseAmountToCents(s string) (int64, error) {
	cents, err := parseDecimalCents(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if cents <= 0 {
		return 0, ErrInvalidAmount
	}
	return cents, nil
}

// ParseBalanceToCents converts a non-negative decimal string to cents with
// the same format rules as ParseAmountToCents. Zero is allowed: a new
// account may open empty.
func ParseBalanceToCents(s string) (int64, error) {
	cents, err := parseDecimalCents(s)
	if err != nil {
		return 0, ErrInvalidBalance
	}
	return cents, nil
}

func parseDecimalCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidAmount
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > 2 {
		return 0, ErrInvalidAmount
	}
	for _, r := range intPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	for _, r := range fracPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	// Prevent overflow when multiplying by 100
	const maxSafeInt64 = (1<<63 - 1) / 100
	if iv > maxSafeInt64 {
		return 0, ErrInvalidAmount
	}
	var fracCents int64
	if len(fracPart) > 0 {
		fracCents = int64(fracPart[0]-'0') * 10
		if len(fracPart) > 1 {
			fracCents += int64(fracPart[1] - '0')
		}
	}
	return iv*100 + fracCents, nil
}

// Decimal renders the amount as a plain decimal string ("12.34") for API
// payloads. Balance math stays in cents; this is presentation only.
func (m Money) Decimal() string {
	cents := m.Cents
	neg := cents < 0
	if neg {
		cents = -cents
	}
	s := strconv.FormatInt(cents/100, 10) + "." + pad2(cents%100)
	if neg {
		return "-" + s
	}
	return s
}

func pad2(n int64) string {
	if n < 10 {
		return "0" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}
