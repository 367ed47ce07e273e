package federation

import (
	"context"
)

// Datasource is the stored record for one connected source, as supplied by
// the datasource repository: provider id, display name, and the raw
// credential/config fields the provider mapping turns into a connection
// string.
type Datasource struct {
	ID       string
	Name     string
	Provider string
	Config   map[string]string
}

// DatasourceRepository resolves datasource ids to their stored records.
// Implemented by product plumbing outside this package; a stale or deleted
// id returns an error and the caller skips that datasource.
type DatasourceRepository interface {
	FindByID(ctx context.Context, id string) (*Datasource, error)
}

// Ingestor materializes a natively-ingestible datasource (spreadsheet,
// flat file, export) as a view on the session connection and returns the
// produced view name.
type Ingestor interface {
	Materialize(ctx context.Context, conn Conn, ds *Datasource) (viewName string, err error)
}

// ExtensionResolver is the extension-metadata fallback consulted only when
// a provider id matches no built-in family pattern. A hit means the
// provider is attachable through the named engine extension.
type ExtensionResolver interface {
	Extension(providerID string) (name string, ok bool)
}

// SourceKind classifies how a datasource is represented in a session:
// foreign sources are ATTACHed under a derived catalog name, native
// sources are ingested into a view. The two representations are mutually
// exclusive for a given datasource.
type SourceKind int

const (
	// KindForeign is an external database queried through the engine's
	// cross-engine attachment mechanism.
	KindForeign SourceKind = iota
	// KindNative is a source ingested into the session database itself.
	KindNative
)

// classify decides a datasource's representation. Known engine families
// and extension-resolvable providers are foreign; everything else (CSV,
// spreadsheets, flat files) goes through native ingestion.
func classify(ds *Datasource, ext ExtensionResolver) SourceKind {
	if _, err := ResolveProvider(ds.Provider); err == nil {
		return KindForeign
	}
	if ext != nil {
		if _, ok := ext.Extension(ds.Provider); ok {
			return KindForeign
		}
	}
	return KindNative
}
