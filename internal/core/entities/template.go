package entities

import "github.com/JonMunkholm/caseimport/internal/core"

// Template returns the header row and an example row for an entity's
// import file. Headers are column keys so the file maps without guessing.
func Template(def core.EntityDefinition) (header, example []string) {
	header = make([]string, len(def.Columns))
	example = make([]string, len(def.Columns))
	for i, col := range def.Columns {
		header[i] = col.Key
		example[i] = col.Example
	}
	return header, example
}
