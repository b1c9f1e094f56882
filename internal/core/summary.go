package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount decimal.Decimal
	Count  int
}

// Summary is a compact aggregate of a transaction list.
type Summary struct {
	Income     decimal.Decimal
	Expenses   decimal.Decimal
	Net        decimal.Decimal
	Count      int
	ByCategory []CategoryAmount
}

// Summarize totals transactions exactly, avoiding float drift. Zero
// amounts count toward Count and ByCategory but neither Income nor Expenses.
// ByCategory is ordered by category name.
func Summarize(txs []Transaction) Summary {
	s := Summary{
		Income:   decimal.Zero,
		Expenses: decimal.Zero,
		Net:      decimal.Zero,
		Count:    len(txs),
	}
	byName := map[string]*CategoryAmount{}
	for _, t := range txs {
		amt := decimal.NewFromFloat(t.Amount)
		switch {
		case amt.IsPositive():
			s.Income = s.Income.Add(amt)
		case amt.IsNegative():
			s.Expenses = s.Expenses.Add(amt)
		}
		s.Net = s.Net.Add(amt)

		ca, ok := byName[t.Category.Name]
		if !ok {
			ca = &CategoryAmount{Name: t.Category.Name, Amount: decimal.Zero}
			byName[t.Category.Name] = ca
		}
		ca.Amount = ca.Amount.Add(amt)
		ca.Count++
	}
	for _, ca := range byName {
		s.ByCategory = append(s.ByCategory, *ca)
	}
	sort.Slice(s.ByCategory, func(i, j int) bool {
		return s.ByCategory[i].Name < s.ByCategory[j].Name
	})
	return s
}
