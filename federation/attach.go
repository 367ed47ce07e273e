package federation

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Conn is the subset of *sql.Conn the attachment, ingestion, and listing
// procedures need. Handles borrowed from a session pool satisfy it.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ColumnInfo describes one column of an accessible foreign table, gathered
// for diagnostics only.
type ColumnInfo struct {
	Name string
	Type string
}

// TableInfo is one user-facing table discovered in an attached catalog.
type TableInfo struct {
	Schema  string
	Name    string
	Columns []ColumnInfo
}

// AttachResult reports what an attachment produced: the derived catalog
// name and the accessible, non-system tables behind it.
type AttachResult struct {
	CatalogName string
	Tables      []TableInfo
}

// AttachOptions tune the optional diagnostics of the attachment procedure.
type AttachOptions struct {
	// ProbeTables verifies each discovered table answers a cheap bounded
	// query before including it. Permission and missing-object failures
	// drop the single table silently.
	ProbeTables bool
	// DescribeColumns collects column metadata for each accessible table.
	// Failures omit the metadata, never the table.
	DescribeColumns bool
	// introspectionRetries overrides the enumeration retry count in tests.
	introspectionRetries int
}

// AttachForeignDatasource registers ds with the embedded engine under its
// derived catalog name and enumerates the user-facing tables behind it.
// Failure policy per step: an unsupported provider or failed extension
// load is fatal for this datasource only; a MissingConfigError means the
// datasource is not configured yet and should be skipped without noise; an
// already-attached catalog is success; individual unreadable tables are
// skipped without failing the attachment.
func AttachForeignDatasource(ctx context.Context, conn Conn, ds *Datasource, ext ExtensionResolver, opts AttachOptions) (*AttachResult, error) {
	mapping, err := resolveMapping(ds.Provider, ext)
	if err != nil {
		return nil, err
	}

	catalogName, err := CatalogName(ds.ID)
	if err != nil {
		return nil, fmt.Errorf("derive catalog name for datasource %q: %w", ds.ID, err)
	}

	if mapping.Extension != "" {
		if err := loadExtension(ctx, conn, mapping.Extension); err != nil {
			return nil, fmt.Errorf("load extension %s for datasource %q: %w", mapping.Extension, ds.ID, err)
		}
	}

	connStr, err := mapping.ConnectionString(ds.Config)
	if err != nil {
		// MissingConfigError passes through unwrapped so callers can
		// recognize the expected incremental-enablement state.
		return nil, err
	}

	if _, err := conn.ExecContext(ctx, mapping.AttachStatement(connStr, catalogName)); err != nil {
		if !isAlreadyAttached(err) {
			return nil, fmt.Errorf("attach datasource %q as %s: %w", ds.ID, catalogName, err)
		}
		slog.Debug("Catalog already attached.", "datasource", ds.ID, "catalog", catalogName)
	}

	tables, err := enumerateTables(ctx, conn, mapping, catalogName, opts)
	if err != nil {
		return nil, fmt.Errorf("enumerate tables of %s: %w", catalogName, err)
	}

	return &AttachResult{CatalogName: catalogName, Tables: tables}, nil
}

// resolveMapping is ResolveProvider with the extension-metadata fallback:
// a provider id with no built-in family may still be attachable through an
// engine extension the resolver knows about.
func resolveMapping(providerID string, ext ExtensionResolver) (Mapping, error) {
	mapping, err := ResolveProvider(providerID)
	if err == nil {
		return mapping, nil
	}
	if ext != nil {
		if name, ok := ext.Extension(providerID); ok {
			return extensionMapping(name), nil
		}
	}
	return Mapping{}, err
}

// DetachForeignDatasource detaches the catalog derived from datasourceID.
// A catalog that is not attached counts as already satisfied.
func DetachForeignDatasource(ctx context.Context, conn Conn, datasourceID string) error {
	catalogName, err := CatalogName(datasourceID)
	if err != nil {
		return fmt.Errorf("derive catalog name for datasource %q: %w", datasourceID, err)
	}
	if _, err := conn.ExecContext(ctx, "DETACH "+catalogName); err != nil {
		if isMissingObject(err) {
			// Not attached: already satisfied.
			return nil
		}
		return fmt.Errorf("detach %s: %w", catalogName, err)
	}
	return nil
}

// loadExtension installs and loads an engine extension. INSTALL is a no-op
// when the extension is already present.
func loadExtension(ctx context.Context, conn Conn, name string) error {
	if _, err := conn.ExecContext(ctx, "INSTALL "+name); err != nil {
		return fmt.Errorf("install: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "LOAD "+name); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	return nil
}

// enumerateTables runs the family table-enumeration query and filters out
// system schemas and tables. Enumeration goes over the network for remote
// families, so it retries transient failures.
func enumerateTables(ctx context.Context, conn Conn, mapping Mapping, catalogName string, opts AttachOptions) ([]TableInfo, error) {
	retries := opts.introspectionRetries
	if retries <= 0 {
		retries = 3
	}

	var raw []TableInfo
	err := retryWithBackoff(ctx, retries, func() error {
		rows, err := conn.QueryContext(ctx, mapping.TablesQuery(catalogName))
		if err != nil {
			return err
		}
		defer rows.Close()

		raw = raw[:0]
		for rows.Next() {
			var t TableInfo
			if err := rows.Scan(&t.Schema, &t.Name); err != nil {
				return err
			}
			raw = append(raw, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	tables := make([]TableInfo, 0, len(raw))
	for _, t := range raw {
		if IsSystemSchema(mapping.Family, t.Schema) || IsSystemTable(t.Name) {
			continue
		}
		if opts.ProbeTables {
			if ok := probeTable(ctx, conn, catalogName, t); !ok {
				continue
			}
		}
		if opts.DescribeColumns {
			t.Columns = describeColumns(ctx, conn, catalogName, t)
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// probeTable checks a table answers a cheap bounded query. Permission and
// missing-object failures are expected for restricted schemas and stale
// registry entries; anything else is unexpected but still only skips this
// one table.
func probeTable(ctx context.Context, conn Conn, catalogName string, t TableInfo) bool {
	query := fmt.Sprintf(`SELECT 1 FROM %s LIMIT 1`, qualifiedName(catalogName, t.Schema, t.Name))
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		if isPermissionDenied(err) || isMissingObject(err) {
			return false
		}
		slog.Warn("Unexpected failure probing foreign table, skipping it.",
			"catalog", catalogName, "schema", t.Schema, "table", t.Name, "error", err)
		return false
	}
	rows.Close()
	return true
}

// describeColumns gathers column names and types for diagnostics.
// Best effort: a failure returns nil and the table keeps no metadata.
func describeColumns(ctx context.Context, conn Conn, catalogName string, t TableInfo) []ColumnInfo {
	query := "DESCRIBE " + qualifiedName(catalogName, t.Schema, t.Name)
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		slog.Debug("Failed to describe foreign table.",
			"catalog", catalogName, "schema", t.Schema, "table", t.Name, "error", err)
		return nil
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil || len(cols) < 2 {
		return nil
	}
	// DESCRIBE returns more columns than we keep; scan the extras into
	// throwaway slots.
	scratch := make([]any, len(cols))
	var out []ColumnInfo
	for rows.Next() {
		var name, typ sql.NullString
		scratch[0] = &name
		scratch[1] = &typ
		for i := 2; i < len(scratch); i++ {
			scratch[i] = new(sql.RawBytes)
		}
		if err := rows.Scan(scratch...); err != nil {
			return nil
		}
		out = append(out, ColumnInfo{Name: name.String, Type: typ.String})
	}
	return out
}

func qualifiedName(catalog, schema, table string) string {
	if schema == "" {
		return fmt.Sprintf(`%s."%s"`, catalog, table)
	}
	return fmt.Sprintf(`%s."%s"."%s"`, catalog, schema, table)
}
