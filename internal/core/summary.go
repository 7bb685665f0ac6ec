package core

import "sort"

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}

// FinanceSummary is a compact cross-month overview derived from the
// canonical monthly buckets.
type FinanceSummary struct {
	TotalIncome     float64            `json:"totalIncome"`
	TotalExpenses   float64            `json:"totalExpenses"`
	TotalBalance    float64            `json:"totalBalance"`
	MonthsTracked   int                `json:"monthsTracked"`
	AvgSavingsRate  float64            `json:"avgSavingsRate"`
	ExpensesByMonth map[string]float64 `json:"expensesByMonth"`
	ByCategory      []CategoryAmount   `json:"byCategory"`
}

// Summarize aggregates every canonical month of the finance module. Aliased
// buckets are folded through MergeMonthly so duplicate period labels never
// count twice.
func (f FinanceModule) Summarize() FinanceSummary {
	s := FinanceSummary{ExpensesByMonth: make(map[string]float64)}
	byCategory := make(map[string]float64)
	var rateSum float64
	for _, month := range Months {
		rec := MergeMonthly(f.MonthlyData, month)
		if rec.Income == 0 && rec.Expenses == 0 && len(rec.Transactions) == 0 {
			continue
		}
		s.MonthsTracked++
		s.TotalIncome += rec.Income
		s.TotalExpenses += rec.Expenses
		rateSum += rec.SavingsRate
		s.ExpensesByMonth[string(month)] = rec.Expenses
		for _, tx := range rec.Transactions {
			if tx.Type == Expense {
				byCategory[tx.Category] += sanitizeAmount(tx.Amount)
			}
		}
	}
	s.TotalBalance = s.TotalIncome - s.TotalExpenses
	if s.MonthsTracked > 0 {
		s.AvgSavingsRate = rateSum / float64(s.MonthsTracked)
	}
	for name, amount := range byCategory {
		s.ByCategory = append(s.ByCategory, CategoryAmount{Name: name, Amount: amount})
	}
	sort.Slice(s.ByCategory, func(i, j int) bool {
		a, b := s.ByCategory[i], s.ByCategory[j]
		if a.Amount != b.Amount {
			return a.Amount > b.Amount
		}
		return a.Name < b.Name
	})
	return s
}
