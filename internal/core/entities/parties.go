package entities

import "github.com/JonMunkholm/caseimport/internal/core"

func init() {
	registerAccounts()
	registerContacts()
	registerSubjects()
}

func registerAccounts() {
	core.Register(core.EntityDefinition{
		EntityType:  "accounts",
		DisplayName: "Clients",
		ImportOrder: 1,
		Columns: []core.ColumnSpec{
			externalID("CLIENT-001"),
			{Name: "Name", Key: "name", Type: core.ColumnText, Required: true, Example: "Acme Insurance", Description: "Client or company name"},
			{Name: "Account Type", Key: "account_type", Type: core.ColumnText, Example: "insurer", Tips: "insurer, law_firm, corporate or individual"},
			{Name: "Parent Account External ID", Key: "parent_account_external_id", Type: core.ColumnReference, References: "accounts", Example: "CLIENT-000", Description: "Parent client in the same file"},
			{Name: "Email", Key: "email", Type: core.ColumnText, Example: "claims@acme.example"},
			{Name: "Phone", Key: "phone", Type: core.ColumnText, Example: "(555) 123-4567"},
			{Name: "Website", Key: "website", Type: core.ColumnText, Example: "https://acme.example"},
			{Name: "Address Line 1", Key: "address_line1", Type: core.ColumnText, Example: "100 Main St"},
			{Name: "Address Line 2", Key: "address_line2", Type: core.ColumnText},
			{Name: "City", Key: "city", Type: core.ColumnText, Example: "Sacramento"},
			{Name: "State", Key: "state", Type: core.ColumnText, Example: "CA", Tips: "State name or two-letter code"},
			{Name: "Postal Code", Key: "postal_code", Type: core.ColumnText, Example: "95814"},
			{Name: "Country", Key: "country", Type: core.ColumnText, Example: "US"},
			{Name: "Billing Rate", Key: "billing_rate", Type: core.ColumnNumber, Example: "$125.00"},
			{Name: "Is Active", Key: "is_active", Type: core.ColumnBoolean, Example: "yes"},
			{Name: "Notes", Key: "notes", Type: core.ColumnText},
			{Name: "Custom Fields", Key: "custom_fields", Type: core.ColumnJSON, Example: `{"region":"west"}`},
		},
	})
}

func registerContacts() {
	core.Register(core.EntityDefinition{
		EntityType:  "contacts",
		DisplayName: "Contacts",
		ImportOrder: 2,
		DependsOn:   []string{"accounts"},
		Columns: []core.ColumnSpec{
			externalID("CON-1"),
			{Name: "Account External ID", Key: "account_external_id", Type: core.ColumnReference, References: "accounts", Example: "CLIENT-001"},
			{Name: "First Name", Key: "first_name", Type: core.ColumnText, Required: true, Example: "Jo"},
			{Name: "Last Name", Key: "last_name", Type: core.ColumnText, Example: "Smith"},
			{Name: "Title", Key: "title", Type: core.ColumnText, Example: "Claims Adjuster"},
			{Name: "Email", Key: "email", Type: core.ColumnText, Example: "jo.smith@acme.example"},
			{Name: "Phone", Key: "phone", Type: core.ColumnText, Example: "555-123-4567"},
			{Name: "Mobile Phone", Key: "mobile_phone", Type: core.ColumnText},
			{Name: "City", Key: "city", Type: core.ColumnText},
			{Name: "State", Key: "state", Type: core.ColumnText, Example: "california"},
			{Name: "Is Primary", Key: "is_primary", Type: core.ColumnBoolean, Example: "true"},
			{Name: "Notes", Key: "notes", Type: core.ColumnText},
		},
	})
}

func registerSubjects() {
	core.Register(core.EntityDefinition{
		EntityType:  "subjects",
		DisplayName: "Subjects",
		ImportOrder: 3,
		Columns: []core.ColumnSpec{
			externalID("SUBJ-1"),
			{Name: "First Name", Key: "first_name", Type: core.ColumnText, Required: true, Example: "Pat"},
			{Name: "Last Name", Key: "last_name", Type: core.ColumnText, Example: "Doe"},
			{Name: "Date of Birth", Key: "date_of_birth", Type: core.ColumnDate, Example: "04/12/1980"},
			{Name: "Gender", Key: "gender", Type: core.ColumnText},
			{Name: "Email", Key: "email", Type: core.ColumnText},
			{Name: "Phone", Key: "phone", Type: core.ColumnText},
			{Name: "Address Line 1", Key: "address_line1", Type: core.ColumnText},
			{Name: "City", Key: "city", Type: core.ColumnText},
			{Name: "State", Key: "state", Type: core.ColumnText},
			{Name: "Postal Code", Key: "postal_code", Type: core.ColumnText},
			{Name: "Description", Key: "description", Type: core.ColumnText, Tips: "Physical description, vehicles, habits"},
			{Name: "Attributes", Key: "attributes", Type: core.ColumnJSON},
		},
	})
}

// externalID is the first column of every referenceable entity.
func externalID(example string) core.ColumnSpec {
	return core.ColumnSpec{
		Name:        "External Record ID",
		Key:         core.ExternalIDKey,
		Type:        core.ColumnText,
		Format:      core.FormatPlain,
		Required:    true,
		Example:     example,
		Description: "Your identifier for this record, used by other files to reference it",
		Tips:        "Must be unique within the file. It is not stored as the record's primary key.",
	}
}
