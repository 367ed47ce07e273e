package federation

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// FileIngestor materializes flat-file datasources (CSV, Parquet, JSON,
// exported spreadsheets) as views through the engine's file readers. It is
// the default Ingestor wiring; the hosted product swaps in the
// business-context ingestion service through the same interface.
type FileIngestor struct{}

// readerFunctions maps a file kind to the engine reader that scans it.
var readerFunctions = map[string]string{
	"csv":     "read_csv_auto",
	"tsv":     "read_csv_auto",
	"parquet": "read_parquet",
	"json":    "read_json_auto",
	"jsonl":   "read_json_auto",
	"ndjson":  "read_json_auto",
}

// Materialize creates (or refreshes) a view over the datasource's backing
// file and returns the view name, derived from the datasource display name.
func (FileIngestor) Materialize(ctx context.Context, conn Conn, ds *Datasource) (string, error) {
	path := firstConfig(ds.Config, "path", "file", "url")
	if path == "" {
		return "", &MissingConfigError{Field: "path"}
	}

	reader := readerFunctions[strings.ToLower(ds.Provider)]
	if reader == "" {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
		reader = readerFunctions[ext]
	}
	if reader == "" {
		return "", &UnsupportedProviderError{Provider: ds.Provider, Supported: fileProviders()}
	}

	viewName, err := SanitizeIdentifier(ds.Name)
	if err != nil {
		// Fall back to the id-derived name for blank display names.
		viewName, err = CatalogName(ds.ID)
		if err != nil {
			return "", err
		}
	}

	// Plain CREATE VIEW, never OR REPLACE: an object already holding this
	// name may be another datasource's view or a user table, and replacing
	// it would silently reroute their data. The reconciler decides whether
	// a collision is stale (droppable) or genuine.
	stmt := fmt.Sprintf(`CREATE VIEW "%s" AS SELECT * FROM %s('%s')`,
		viewName, reader, strings.ReplaceAll(path, "'", "''"))
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		if isAlreadyAttached(err) {
			return "", &NameCollisionError{Name: viewName}
		}
		return "", fmt.Errorf("materialize %q as view %s: %w", ds.ID, viewName, err)
	}
	return viewName, nil
}

func fileProviders() []string {
	out := make([]string, 0, len(readerFunctions))
	for k := range readerFunctions {
		out = append(out, k)
	}
	return out
}
