package db

import (
	"fmt"
	"regexp"
)

var schemaPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidSchemaName reports whether name is safe to interpolate into DDL.
func ValidSchemaName(name string) bool {
	return schemaPattern.MatchString(name)
}

// SearchPathSQL returns the statement that scopes a session to schema.
func SearchPathSQL(schema string) string {
	return fmt.Sprintf("SET search_path TO %s, public", schema)
}
