// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing signed monetary amounts typed into
// forms and for rendering amounts for display.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a decimal string to a signed amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and an
// optional leading sign. Amounts are rounded half-up to two decimal places.
//
// Examples:
//
//	ParseAmount("-4.5")   -> -4.5, nil
//	ParseAmount("12,345") -> 12.35, nil
//	ParseAmount("+3")     -> 3, nil
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	s = strings.TrimPrefix(s, "+")
	if strings.HasPrefix(s, "+") || strings.Count(s, ".") > 1 {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	f, _ := d.Round(2).Float64()
	return f, nil
}

// FormatAmount renders an amount with two decimals and an explicit sign
// for positive values, e.g. "+12.00" or "-4.50".
func FormatAmount(amount float64) string {
	d := decimal.NewFromFloat(amount).Round(2)
	s := d.StringFixed(2)
	if d.IsPositive() {
		return "+" + s
	}
	return s
}
