package dbx

import (
	"maps"
	"slices"
)

// PreparedStatement - statement a driver prepares on every new connection of the pool.
// Exec, Query and QueryRow accept its Name in place of the SQL text.
type PreparedStatement struct {
	Name  string
	Query string
}

// PreparedStatementsFrom converts the name to query map of the session configuration, ordered by name.
func PreparedStatementsFrom(queries map[string]string) []PreparedStatement {
	statements := make([]PreparedStatement, 0, len(queries))
	for _, name := range slices.Sorted(maps.Keys(queries)) {
		statements = append(statements, PreparedStatement{Name: name, Query: queries[name]})
	}

	return statements
}
