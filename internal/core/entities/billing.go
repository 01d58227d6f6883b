package entities

import "github.com/JonMunkholm/caseimport/internal/core"

func init() {
	registerTimeEntries()
	registerExpenseEntries()
	registerBudgets()
}

func registerTimeEntries() {
	core.Register(core.EntityDefinition{
		EntityType:  "time_entries",
		DisplayName: "Time Entries",
		ImportOrder: 8,
		DependsOn:   []string{"cases"},
		Columns: []core.ColumnSpec{
			externalID("TIME-1"),
			{Name: "Case External ID", Key: "case_external_id", Type: core.ColumnReference, References: "cases", Required: true, Example: "CASE-1001"},
			{Name: "Entry Date", Key: "entry_date", Type: core.ColumnDate, Required: true, Example: "03/16/2024"},
			{Name: "Hours", Key: "hours", Type: core.ColumnNumber, Required: true, Example: "8.5"},
			{Name: "Rate", Key: "rate", Type: core.ColumnNumber, Example: "$95.00"},
			{Name: "Activity", Key: "activity", Type: core.ColumnText, Example: "surveillance"},
			{Name: "Description", Key: "description", Type: core.ColumnText},
			{Name: "Billable", Key: "billable", Type: core.ColumnBoolean, Example: "yes"},
			{Name: "Investigator Email", Key: "investigator_email", Type: core.ColumnText, Example: "sam@agency.example"},
		},
	})
}

func registerExpenseEntries() {
	core.Register(core.EntityDefinition{
		EntityType:  "expense_entries",
		DisplayName: "Expense Entries",
		ImportOrder: 9,
		DependsOn:   []string{"cases"},
		Columns: []core.ColumnSpec{
			externalID("EXP-1"),
			{Name: "Case External ID", Key: "case_external_id", Type: core.ColumnReference, References: "cases", Required: true, Example: "CASE-1001"},
			{Name: "Expense Date", Key: "expense_date", Type: core.ColumnDate, Required: true, Example: "16.03.2024"},
			{Name: "Category", Key: "category", Type: core.ColumnText, Example: "mileage"},
			{Name: "Quantity", Key: "quantity", Type: core.ColumnNumber, Example: "120"},
			{Name: "Unit Cost", Key: "unit_cost", Type: core.ColumnNumber, Example: "0.67"},
			{Name: "Amount", Key: "amount", Type: core.ColumnNumber, Required: true, Example: "($80.40)", Tips: "Parentheses or a leading minus mark credits"},
			{Name: "Description", Key: "description", Type: core.ColumnText},
			{Name: "Billable", Key: "billable", Type: core.ColumnBoolean},
			{Name: "Receipt Attached", Key: "receipt_attached", Type: core.ColumnBoolean},
		},
	})
}

func registerBudgets() {
	core.Register(core.EntityDefinition{
		EntityType:  "budgets",
		DisplayName: "Budgets",
		ImportOrder: 10,
		DependsOn:   []string{"cases"},
		Columns: []core.ColumnSpec{
			externalID("BUD-1"),
			{Name: "Case External ID", Key: "case_external_id", Type: core.ColumnReference, References: "cases", Required: true, Example: "CASE-1001"},
			{Name: "Budget Type", Key: "budget_type", Type: core.ColumnText, Example: "hours"},
			{Name: "Amount", Key: "amount", Type: core.ColumnNumber, Required: true, Example: "2500"},
			{Name: "Hours", Key: "hours", Type: core.ColumnNumber, Example: "20"},
			{Name: "Effective Date", Key: "effective_date", Type: core.ColumnDate, Example: "2024-03-15"},
			{Name: "Notes", Key: "notes", Type: core.ColumnText},
		},
	})
}
