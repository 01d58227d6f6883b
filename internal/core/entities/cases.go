package entities

import "github.com/JonMunkholm/caseimport/internal/core"

func init() {
	registerCases()
	registerCaseSubjects()
	registerCaseUpdates()
	registerEvents()
}

func registerCases() {
	core.Register(core.EntityDefinition{
		EntityType:  "cases",
		DisplayName: "Cases",
		ImportOrder: 4,
		DependsOn:   []string{"accounts", "contacts"},
		Columns: []core.ColumnSpec{
			externalID("CASE-1001"),
			{Name: "Account External ID", Key: "account_external_id", Type: core.ColumnReference, References: "accounts", Required: true, Example: "CLIENT-001"},
			{Name: "Contact External ID", Key: "contact_external_id", Type: core.ColumnReference, References: "contacts", Example: "CON-1", Description: "Client contact who requested the case"},
			{Name: "Parent Case External ID", Key: "parent_case_external_id", Type: core.ColumnReference, References: "cases", Tips: "Another case in the same file"},
			{Name: "Case Number", Key: "case_number", Type: core.ColumnText, Example: "2024-0001"},
			{Name: "Title", Key: "title", Type: core.ColumnText, Required: true, Example: "Workers comp surveillance"},
			{Name: "Case Type", Key: "case_type", Type: core.ColumnText, Example: "surveillance"},
			{Name: "Status", Key: "status", Type: core.ColumnText, Example: "open"},
			{Name: "Priority", Key: "priority", Type: core.ColumnText, Example: "normal"},
			{Name: "Claim Number", Key: "claim_number", Type: core.ColumnText, Example: "WC-55512"},
			{Name: "Opened Date", Key: "opened_date", Type: core.ColumnDate, Example: "2024-03-15"},
			{Name: "Due Date", Key: "due_date", Type: core.ColumnDate, Example: "03/29/2024"},
			{Name: "Closed Date", Key: "closed_date", Type: core.ColumnDate},
			{Name: "Budget Amount", Key: "budget_amount", Type: core.ColumnNumber, Example: "$2,500.00"},
			{Name: "Loss State", Key: "loss_state", Type: core.ColumnText, Example: "TX"},
			{Name: "Description", Key: "description", Type: core.ColumnText},
			{Name: "Custom Fields", Key: "custom_fields", Type: core.ColumnJSON},
		},
	})
}

func registerCaseSubjects() {
	core.Register(core.EntityDefinition{
		EntityType:  "case_subjects",
		DisplayName: "Case Subjects",
		ImportOrder: 5,
		DependsOn:   []string{"cases", "subjects"},
		Link:        true,
		Columns: []core.ColumnSpec{
			{Name: "Case External ID", Key: "case_external_id", Type: core.ColumnReference, References: "cases", Required: true, Example: "CASE-1001"},
			{Name: "Subject External ID", Key: "subject_external_id", Type: core.ColumnReference, References: "subjects", Required: true, Example: "SUBJ-1"},
			{Name: "Role", Key: "role", Type: core.ColumnText, Example: "claimant"},
			{Name: "Is Primary", Key: "is_primary", Type: core.ColumnBoolean, Example: "yes"},
		},
	})
}

func registerCaseUpdates() {
	core.Register(core.EntityDefinition{
		EntityType:  "case_updates",
		DisplayName: "Case Updates",
		ImportOrder: 6,
		DependsOn:   []string{"cases"},
		Columns: []core.ColumnSpec{
			externalID("UPD-1"),
			{Name: "Case External ID", Key: "case_external_id", Type: core.ColumnReference, References: "cases", Required: true, Example: "CASE-1001"},
			{Name: "Title", Key: "title", Type: core.ColumnText, Example: "Day 1 surveillance"},
			{Name: "Body", Key: "body", Type: core.ColumnText, Required: true, Example: "Subject observed leaving residence at 07:40."},
			{Name: "Update Type", Key: "update_type", Type: core.ColumnText, Example: "field_note"},
			{Name: "Is Client Visible", Key: "is_client_visible", Type: core.ColumnBoolean, Example: "no"},
			{Name: "Created At", Key: "created_at", Type: core.ColumnDate, Example: "2024-03-16T07:40:00Z"},
		},
	})
}

func registerEvents() {
	core.Register(core.EntityDefinition{
		EntityType:  "events",
		DisplayName: "Events",
		ImportOrder: 7,
		DependsOn:   []string{"cases"},
		Columns: []core.ColumnSpec{
			externalID("EVT-1"),
			{Name: "Case External ID", Key: "case_external_id", Type: core.ColumnReference, References: "cases", Required: true, Example: "CASE-1001"},
			{Name: "Event Type", Key: "event_type", Type: core.ColumnText, Example: "surveillance"},
			{Name: "Title", Key: "title", Type: core.ColumnText, Required: true, Example: "Morning surveillance"},
			{Name: "Starts At", Key: "starts_at", Type: core.ColumnDate, Required: true, Example: "3/16/2024 07:00"},
			{Name: "Ends At", Key: "ends_at", Type: core.ColumnDate, Example: "3/16/2024 15:00"},
			{Name: "Location", Key: "location", Type: core.ColumnText},
			{Name: "State", Key: "state", Type: core.ColumnText},
			{Name: "Notes", Key: "notes", Type: core.ColumnText},
		},
	})
}
