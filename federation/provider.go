package federation

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// EngineFamily identifies which foreign-engine scanner handles a provider.
// The set is closed: provider ids resolve to a family through the
// registration table below, never through open-ended pattern dispatch.
type EngineFamily int

const (
	FamilyUnknown EngineFamily = iota
	FamilyPostgres
	FamilyMySQL
	FamilySQLite
)

func (f EngineFamily) String() string {
	switch f {
	case FamilyPostgres:
		return "postgres"
	case FamilyMySQL:
		return "mysql"
	case FamilySQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// Mapping is the per-provider recipe for attaching a foreign database:
// which extension to load, how to turn stored config into a connection
// string, and how to enumerate the attached catalog's tables. Immutable,
// derived at call time, never persisted.
type Mapping struct {
	Family    EngineFamily
	Extension string // DuckDB extension to INSTALL/LOAD, empty if none
	attachTyp string // TYPE clause for the ATTACH statement, empty if none

	connectionString func(config map[string]string) (string, error)
	tablesQuery      func(catalogName string) string
}

// ConnectionString builds the engine connection string from a datasource's
// stored config. Fails with a MissingConfigError naming the required field
// when it is absent.
func (m Mapping) ConnectionString(config map[string]string) (string, error) {
	return m.connectionString(config)
}

// TablesQuery returns the catalog-introspection query enumerating
// (schema, table) pairs of the attached catalog.
func (m Mapping) TablesQuery(catalogName string) string {
	return m.tablesQuery(catalogName)
}

// AttachStatement builds the ATTACH statement registering connStr under
// catalogName. Foreign engines are attached read only; chat queries never
// write back to a customer database.
func (m Mapping) AttachStatement(connStr, catalogName string) string {
	escaped := strings.ReplaceAll(connStr, "'", "''")
	if m.attachTyp == "" {
		return fmt.Sprintf("ATTACH '%s' AS %s", escaped, catalogName)
	}
	return fmt.Sprintf("ATTACH '%s' AS %s (TYPE %s, READ_ONLY)", escaped, catalogName, m.attachTyp)
}

// providerFamilies maps a provider id prefix to its engine family. A
// provider id matches a family when it equals the prefix or extends it with
// a "-variant" suffix, e.g. "postgresql" and "postgresql-supabase" both
// resolve to the Postgres family.
var providerFamilies = []struct {
	prefix string
	family EngineFamily
}{
	{"postgresql", FamilyPostgres},
	{"postgres", FamilyPostgres},
	{"mysql", FamilyMySQL},
	{"mariadb", FamilyMySQL},
	{"sqlite", FamilySQLite},
	{"duckdb", FamilySQLite},
}

// SupportedProviders lists the provider id prefixes with a built-in
// mapping, for UnsupportedProviderError messages.
func SupportedProviders() []string {
	out := make([]string, 0, len(providerFamilies))
	for _, p := range providerFamilies {
		out = append(out, p.prefix)
	}
	return out
}

// ResolveProvider maps a datasource provider id to its Mapping. Matching is
// prefix-based so provider variants share a family. Returns an
// UnsupportedProviderError when no family claims the id.
func ResolveProvider(providerID string) (Mapping, error) {
	id := strings.ToLower(strings.TrimSpace(providerID))
	for _, p := range providerFamilies {
		if id == p.prefix || strings.HasPrefix(id, p.prefix+"-") {
			return familyMapping(p.family), nil
		}
	}
	return Mapping{}, &UnsupportedProviderError{Provider: providerID, Supported: SupportedProviders()}
}

func familyMapping(family EngineFamily) Mapping {
	switch family {
	case FamilyPostgres:
		return Mapping{
			Family:           FamilyPostgres,
			Extension:        "postgres",
			attachTyp:        "POSTGRES",
			connectionString: postgresConnectionString,
			tablesQuery:      postgresTablesQuery,
		}
	case FamilyMySQL:
		return Mapping{
			Family:           FamilyMySQL,
			Extension:        "mysql",
			attachTyp:        "MYSQL",
			connectionString: mysqlConnectionString,
			tablesQuery:      mysqlTablesQuery,
		}
	default:
		return Mapping{
			Family:           FamilySQLite,
			Extension:        "sqlite",
			attachTyp:        "SQLITE",
			connectionString: sqliteConnectionString,
			tablesQuery:      engineTablesQuery,
		}
	}
}

// extensionMapping builds a generic mapping for providers known only
// through the extension-metadata fallback: the connection string is taken
// verbatim from config and tables are enumerated through the engine's own
// catalog, since we know nothing else about the family.
func extensionMapping(extension string) Mapping {
	return Mapping{
		Family:    FamilyUnknown,
		Extension: extension,
		connectionString: func(config map[string]string) (string, error) {
			if s := config["connectionUrl"]; s != "" {
				return s, nil
			}
			return "", &MissingConfigError{Field: "connectionUrl"}
		},
		tablesQuery: engineTablesQuery,
	}
}

// postgresConnectionString normalizes a stored Postgres connection string
// for the postgres scanner. Two rewrites are always applied: the
// channel_binding parameter is stripped (libpq-only, the scanner rejects
// it) and sslmode=disable becomes sslmode=prefer (the servers this product
// talks to always require SSL). Parsed as a URL when possible; when the
// string is malformed-but-plausible we fall back to textual parameter
// surgery rather than rejecting it outright.
func postgresConnectionString(config map[string]string) (string, error) {
	raw := config["connectionUrl"]
	if raw == "" {
		raw = config["connectionString"]
	}
	if raw == "" {
		return "", &MissingConfigError{Field: "connectionUrl"}
	}

	normalized, ok := normalizePostgresURL(raw)
	if !ok {
		normalized = normalizePostgresParams(raw)
	}

	// Sanity-check the result with the pgx config parser. Scanner behavior
	// on a string even pgconn cannot parse is unpredictable, but per policy
	// we still hand it over; the attach failure will name this datasource.
	if _, err := pgconn.ParseConfig(normalized); err != nil {
		slog.Warn("Normalized Postgres connection string failed to parse, attaching anyway.",
			"error", err)
	}
	return normalized, nil
}

// normalizePostgresURL rewrites a postgres:// URL, returning ok=false when
// the input is not parseable as a URL.
func normalizePostgresURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}

	q := u.Query()
	q.Del("channel_binding")
	if strings.EqualFold(q.Get("sslmode"), "disable") {
		q.Set("sslmode", "prefer")
	}
	u.RawQuery = q.Encode()
	return u.String(), true
}

// normalizePostgresParams applies the same rewrites to keyword=value or
// query-fragment style strings via textual surgery.
func normalizePostgresParams(raw string) string {
	// Parameters may be separated by '&' (query fragments) or whitespace
	// (keyword/value DSNs). Rewrite in place, preserving the separator.
	sep := " "
	if strings.Contains(raw, "&") && !strings.Contains(raw, " ") {
		sep = "&"
	}
	parts := strings.Split(raw, sep)
	out := parts[:0]
	for _, part := range parts {
		key, value, found := strings.Cut(part, "=")
		if found {
			switch strings.ToLower(strings.TrimSpace(key)) {
			case "channel_binding":
				continue
			case "sslmode":
				if strings.EqualFold(strings.TrimSpace(value), "disable") {
					part = key + "=prefer"
				}
			}
		}
		out = append(out, part)
	}
	return strings.Join(out, sep)
}

// mysqlConnectionString builds the key=value string the mysql scanner
// expects. A single connection-string field wins when present: mysql:// URLs
// and go-sql-driver DSNs are decomposed into fields; anything else is
// passed through as-is (it may already be scanner syntax). Without a
// connection string the documented defaults apply: localhost, 3306, root,
// empty password.
func mysqlConnectionString(config map[string]string) (string, error) {
	if raw := firstConfig(config, "connectionUrl", "connectionString"); raw != "" {
		if fields, ok := parseMySQLURL(raw); ok {
			return composeMySQLFields(fields), nil
		}
		if cfg, err := mysql.ParseDSN(raw); err == nil {
			host, port := splitHostPort(cfg.Addr, "3306")
			return composeMySQLFields(mysqlFields{
				host: host, port: port,
				user: cfg.User, password: cfg.Passwd, database: cfg.DBName,
			}), nil
		}
		return raw, nil
	}

	database := firstConfig(config, "database", "dbname")
	if database == "" {
		return "", &MissingConfigError{Field: "database"}
	}
	return composeMySQLFields(mysqlFields{
		host:     config["host"],
		port:     config["port"],
		user:     firstConfig(config, "user", "username"),
		password: config["password"],
		database: database,
	}), nil
}

type mysqlFields struct {
	host, port, user, password, database string
}

func composeMySQLFields(f mysqlFields) string {
	if f.host == "" {
		f.host = "localhost"
	}
	if f.port == "" {
		f.port = "3306"
	}
	if f.user == "" {
		f.user = "root"
	}
	parts := []string{
		"host=" + f.host,
		"port=" + f.port,
		"user=" + f.user,
	}
	if f.password != "" {
		parts = append(parts, "password="+f.password)
	}
	if f.database != "" {
		parts = append(parts, "database="+f.database)
	}
	return strings.Join(parts, " ")
}

func parseMySQLURL(raw string) (mysqlFields, bool) {
	if !strings.HasPrefix(raw, "mysql://") && !strings.HasPrefix(raw, "mariadb://") {
		return mysqlFields{}, false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return mysqlFields{}, false
	}
	f := mysqlFields{
		host:     u.Hostname(),
		port:     u.Port(),
		database: strings.TrimPrefix(u.Path, "/"),
	}
	if u.User != nil {
		f.user = u.User.Username()
		f.password, _ = u.User.Password()
	}
	return f, true
}

func splitHostPort(addr, defaultPort string) (host, port string) {
	host, port, found := strings.Cut(addr, ":")
	if !found {
		port = defaultPort
	}
	if host == "" {
		host = "localhost"
	}
	return host, port
}

func firstConfig(config map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := config[k]; v != "" {
			return v
		}
	}
	return ""
}

// sqliteConnectionString covers SQLite-compatible files, including the
// engine's own database files: the connection string is just the file path.
func sqliteConnectionString(config map[string]string) (string, error) {
	if p := firstConfig(config, "path", "file", "connectionUrl"); p != "" {
		return strings.TrimPrefix(p, "sqlite://"), nil
	}
	return "", &MissingConfigError{Field: "path"}
}

// Per-family table enumeration. Postgres and MySQL scanners expose the
// remote information_schema through the attached catalog, which reflects
// the live remote state; file-backed families go through the engine's own
// catalog function.

func postgresTablesQuery(catalogName string) string {
	return fmt.Sprintf(
		`SELECT table_schema, table_name FROM %s.information_schema.tables `+
			`WHERE table_type IN ('BASE TABLE', 'VIEW', 'FOREIGN', 'FOREIGN TABLE')`,
		catalogName)
}

func mysqlTablesQuery(catalogName string) string {
	return fmt.Sprintf(
		`SELECT table_schema, table_name FROM %s.information_schema.tables `+
			`WHERE table_type IN ('BASE TABLE', 'VIEW')`,
		catalogName)
}

func engineTablesQuery(catalogName string) string {
	return fmt.Sprintf(
		`SELECT schema_name, table_name FROM duckdb_tables() WHERE database_name = '%s'`,
		strings.ReplaceAll(catalogName, "'", "''"))
}
