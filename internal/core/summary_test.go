package core

import "testing"

func TestSummarize(t *testing.T) {
	fin := FinanceModule{MonthlyData: map[string]MonthlyRecord{
		"Janvier": {
			Income:      1000,
			Expenses:    400,
			SavingsRate: 60,
			Transactions: []Transaction{
				{ID: "a", Amount: 250, Category: "Rent", Type: Expense},
				{ID: "b", Amount: 150, Category: "Food", Type: Expense},
				{ID: "c", Amount: 1000, Category: "Work", Type: Income},
			},
		},
		// Alias of Janvier carrying a duplicate transaction: must not
		// count twice.
		" janvier ": {
			Transactions: []Transaction{
				{ID: "a", Amount: 250, Category: "Rent", Type: Expense},
			},
		},
		"Mars": {
			Income:      500,
			Expenses:    500,
			SavingsRate: 0,
			Transactions: []Transaction{
				{ID: "d", Amount: 500, Category: "Food", Type: Expense},
			},
		},
	}}

	s := fin.Summarize()

	if s.MonthsTracked != 2 {
		t.Fatalf("MonthsTracked = %d, want 2", s.MonthsTracked)
	}
	if s.TotalIncome != 1500 || s.TotalExpenses != 900 || s.TotalBalance != 600 {
		t.Fatalf("totals = %v / %v / %v", s.TotalIncome, s.TotalExpenses, s.TotalBalance)
	}
	if s.AvgSavingsRate != 30 {
		t.Fatalf("AvgSavingsRate = %v, want 30", s.AvgSavingsRate)
	}
	if s.ExpensesByMonth["Janvier"] != 400 || s.ExpensesByMonth["Mars"] != 500 {
		t.Fatalf("ExpensesByMonth = %v", s.ExpensesByMonth)
	}

	// Categories ordered by descending amount, ties by name.
	want := []CategoryAmount{
		{Name: "Food", Amount: 650},
		{Name: "Rent", Amount: 250},
	}
	if len(s.ByCategory) != len(want) {
		t.Fatalf("ByCategory = %v", s.ByCategory)
	}
	for i, w := range want {
		if s.ByCategory[i] != w {
			t.Fatalf("ByCategory[%d] = %v, want %v", i, s.ByCategory[i], w)
		}
	}
}

func TestSummarizeEmptyModule(t *testing.T) {
	s := FinanceModule{}.Summarize()
	if s.MonthsTracked != 0 || s.TotalBalance != 0 || s.AvgSavingsRate != 0 {
		t.Fatalf("summary of empty module = %+v", s)
	}
	if len(s.ByCategory) != 0 {
		t.Fatalf("ByCategory = %v", s.ByCategory)
	}
}
