package core

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// ErrInvalidRegistry wraps every problem found while building a [Registry].
var ErrInvalidRegistry = errors.New("invalid entity registry")

var (
	definitions   = make(map[string]EntityDefinition)
	definitionsMu sync.RWMutex
)

// Register adds an entity definition to the package-level catalogue.
// Panics if an entity with the same type is already registered.
func Register(def EntityDefinition) {
	definitionsMu.Lock()
	defer definitionsMu.Unlock()

	if _, exists := definitions[def.EntityType]; exists {
		panic(fmt.Sprintf("entity already registered: %s", def.EntityType))
	}
	definitions[def.EntityType] = def
}

// Definitions returns all registered definitions ordered by import order
// then entity type.
func Definitions() []EntityDefinition {
	definitionsMu.RLock()
	defer definitionsMu.RUnlock()

	result := make([]EntityDefinition, 0, len(definitions))
	for _, def := range definitions {
		result = append(result, def)
	}
	slices.SortFunc(result, compareDefinitions)
	return result
}

// Clear removes all registered definitions.
// Primarily useful for testing.
func Clear() {
	definitionsMu.Lock()
	defer definitionsMu.Unlock()
	definitions = make(map[string]EntityDefinition)
}

// Registry is a validated, immutable set of entity definitions with a fixed
// import order. It is safe for concurrent use.
type Registry struct {
	defs   map[string]EntityDefinition
	sorted []EntityDefinition
}

// LoadRegistry validates the registered definitions and builds a Registry.
// Call it once at startup; an error means the process must not import.
func LoadRegistry() (*Registry, error) {
	return NewRegistry(Definitions()...)
}

// MustLoadRegistry is like LoadRegistry but panics on an invalid catalogue.
func MustLoadRegistry() *Registry {
	r, err := LoadRegistry()
	if err != nil {
		panic(err)
	}
	return r
}

// NewRegistry validates defs and computes their dependency order.
//
// Every problem is reported, joined and wrapped in ErrInvalidRegistry. A
// dependency cycle is reported as a *CycleError.
func NewRegistry(defs ...EntityDefinition) (*Registry, error) {
	var errs []error
	byType := make(map[string]EntityDefinition, len(defs))

	for _, def := range defs {
		if def.EntityType == "" {
			errs = append(errs, errors.New("entity with empty type"))
			continue
		}
		if _, dup := byType[def.EntityType]; dup {
			errs = append(errs, fmt.Errorf("duplicate entity type %q", def.EntityType))
			continue
		}
		resolved, colErrs := resolveColumns(def)
		errs = append(errs, colErrs...)
		byType[def.EntityType] = resolved
	}

	for _, name := range sortedKeys(byType) {
		errs = append(errs, checkDependencies(byType[name], byType)...)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRegistry, errors.Join(errs...))
	}

	sorted, err := topoSort(byType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRegistry, err)
	}

	return &Registry{defs: byType, sorted: sorted}, nil
}

// SortedEntities returns the definitions in a valid import order: every
// entity comes after all entities it depends on.
func (r *Registry) SortedEntities() []EntityDefinition {
	return slices.Clone(r.sorted)
}

// Get returns the definition for an entity type.
func (r *Registry) Get(entityType string) (EntityDefinition, bool) {
	def, ok := r.defs[entityType]
	return def, ok
}

// Len returns the number of entity types.
func (r *Registry) Len() int {
	return len(r.defs)
}

// EntityTypes returns the entity types in import order.
func (r *Registry) EntityTypes() []string {
	types := make([]string, len(r.sorted))
	for i, def := range r.sorted {
		types[i] = def.EntityType
	}
	return types
}

// resolveColumns fills derived column fields and fixes each column's format
// so records are never dispatched on column names at run time.
func resolveColumns(def EntityDefinition) (EntityDefinition, []error) {
	var errs []error
	seen := make(map[string]bool, len(def.Columns))
	cols := make([]ColumnSpec, len(def.Columns))

	for i, col := range def.Columns {
		if col.Key == "" {
			col.Key = HeaderKey(col.Name)
		}
		if col.Name == "" {
			col.Name = col.Key
		}
		if col.Label == "" {
			col.Label = col.Name
		}

		switch {
		case col.Key == "":
			errs = append(errs, fmt.Errorf("%s: column %d has no key", def.EntityType, i))
		case seen[col.Key]:
			errs = append(errs, fmt.Errorf("%s: duplicate column %q", def.EntityType, col.Key))
		}
		seen[col.Key] = true

		if col.Type == ColumnReference && col.References == "" {
			errs = append(errs, fmt.Errorf("%s.%s: reference column without target", def.EntityType, col.Key))
		}
		if col.Type != ColumnReference && col.References != "" {
			errs = append(errs, fmt.Errorf("%s.%s: %s column cannot reference %q", def.EntityType, col.Key, col.Type, col.References))
		}

		format, err := resolveFormat(col)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s.%s: %w", def.EntityType, col.Key, err))
		}
		col.Format = format
		cols[i] = col
	}

	def.Columns = cols
	if def.DisplayName == "" {
		def.DisplayName = def.EntityType
	}
	return def, errs
}

// resolveFormat applies the naming convention to FormatAuto columns and
// rejects formats that do not fit the column type.
func resolveFormat(col ColumnSpec) (Format, error) {
	switch col.Format {
	case FormatAuto:
		return inferFormat(col), nil
	case FormatPlain:
		return FormatPlain, nil
	case FormatEmail, FormatPhone, FormatState:
		if col.Type != ColumnText {
			return col.Format, fmt.Errorf("%s format requires a text column, got %s", col.Format, col.Type)
		}
	case FormatDateTime:
		if col.Type != ColumnDate {
			return col.Format, fmt.Errorf("datetime format requires a date column, got %s", col.Type)
		}
	default:
		return col.Format, fmt.Errorf("unknown format %d", int(col.Format))
	}
	return col.Format, nil
}

func inferFormat(col ColumnSpec) Format {
	key := col.Key
	switch col.Type {
	case ColumnText:
		switch {
		case key == "email" || strings.HasSuffix(key, "_email"):
			return FormatEmail
		case key == "phone" || strings.HasSuffix(key, "_phone"):
			return FormatPhone
		case key == "state" || strings.HasSuffix(key, "_state"):
			return FormatState
		}
	case ColumnDate:
		if strings.HasSuffix(key, "_at") || strings.HasSuffix(key, "_datetime") {
			return FormatDateTime
		}
	}
	return FormatPlain
}

func checkDependencies(def EntityDefinition, byType map[string]EntityDefinition) []error {
	var errs []error
	deps := make(map[string]bool, len(def.DependsOn))

	for _, dep := range def.DependsOn {
		if _, ok := byType[dep]; !ok {
			errs = append(errs, fmt.Errorf("%s depends on unknown entity %q", def.EntityType, dep))
		}
		deps[dep] = true
	}

	for _, col := range def.Columns {
		if col.Type != ColumnReference || col.References == "" {
			continue
		}
		target, ok := byType[col.References]
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("%s.%s references unknown entity %q", def.EntityType, col.Key, col.References))
			continue
		case col.References != def.EntityType && !deps[col.References]:
			errs = append(errs, fmt.Errorf("%s.%s references %q which is not in dependsOn", def.EntityType, col.Key, col.References))
		}
		if !target.HasExternalID() {
			errs = append(errs, fmt.Errorf("%s.%s references %q which has no %s column", def.EntityType, col.Key, col.References, ExternalIDKey))
		}
	}
	return errs
}

// HeaderKey converts a header name to a column key: "Account External ID"
// becomes "account_external_id".
func HeaderKey(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimPrefix(name, "\ufeff")
	return strings.Join(strings.FieldsFunc(name, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '\t'
	}), "_")
}

func compareDefinitions(a, b EntityDefinition) int {
	if c := cmp.Compare(a.ImportOrder, b.ImportOrder); c != 0 {
		return c
	}
	return strings.Compare(a.EntityType, b.EntityType)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
