package federation

import "strings"

// System schemas per engine family, excluded from schema introspection and
// from chat-exposed table listings. Membership is case-insensitive; unknown
// families return an empty set so nothing user-facing is ever hidden by
// accident (fail open to "nothing filtered").
var systemSchemas = map[EngineFamily]map[string]bool{
	FamilyPostgres: {
		"pg_catalog":         true,
		"pg_toast":           true,
		"pg_temp_1":          true,
		"pg_toast_temp_1":    true,
		"information_schema": true,
	},
	FamilyMySQL: {
		"mysql":              true,
		"sys":                true,
		"performance_schema": true,
		"information_schema": true,
	},
	FamilySQLite: {
		"information_schema": true,
		"pg_catalog":         true,
	},
}

// SystemSchemas returns the set of schema names to exclude for an engine
// family. The returned map must not be mutated.
func SystemSchemas(family EngineFamily) map[string]bool {
	if s, ok := systemSchemas[family]; ok {
		return s
	}
	return map[string]bool{}
}

// IsSystemSchema reports whether schema is internal to the given family.
func IsSystemSchema(family EngineFamily, schema string) bool {
	return SystemSchemas(family)[strings.ToLower(schema)]
}

// IsSystemTable reports whether a bare table name looks like an internal
// object, independent of engine family: engine-internal prefixes plus the
// migration/secret bookkeeping tables ORMs and platforms leave behind.
func IsSystemTable(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range []string{"sqlite_", "duckdb_", "pg_stat", "__"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return strings.Contains(lower, "_migrations") ||
		strings.Contains(lower, "_secrets")
}
