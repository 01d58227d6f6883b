// Package core provides the case import engine.
//
// This package holds all domain logic independent of any transport or
// storage. It is used by the HTTP server, the CLI and tests without
// modification.
//
// # Entity Registry
//
// Entity types are registered at init time using [Register] and validated
// into a [Registry] by [LoadRegistry]. Validation rejects unknown
// dependencies, dependency cycles, duplicate columns and reference columns
// that point outside an entity's DependsOn. [Registry.SortedEntities]
// returns a dependency-respecting order, breaking ties by ImportOrder:
//
//	core.Register(core.EntityDefinition{
//	    EntityType:  "contacts",
//	    ImportOrder: 2,
//	    DependsOn:   []string{"accounts"},
//	    Columns: []core.ColumnSpec{
//	        {Key: core.ExternalIDKey, Type: core.ColumnText, Required: true},
//	        {Key: "account_external_id", Type: core.ColumnReference, References: "accounts"},
//	    },
//	})
//
// # Import Runs
//
// [Importer.Run] walks the sorted entities. Each row is normalized by
// [NormalizeRecord], its references are resolved through the run's
// [Resolver], required columns are checked and the record is written by a
// [Persister]. Rows fail individually; the run keeps going. [Service] runs
// imports in the background with progress subscription and cancellation.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages using [MapError].
// Each category has a code for support reference:
//
//   - REG: entity definitions
//   - REF: references and external IDs
//   - VAL: input validation
//   - DB: storage
//   - RUN, UPL: run management and uploads
package core
