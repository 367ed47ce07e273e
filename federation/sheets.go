package federation

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// SheetEntry is one queryable object exposed to the chat: either a
// materialized view over an ingested source or a table behind an attached
// foreign catalog.
type SheetEntry struct {
	Name     string `json:"name"`
	FullPath string `json:"fullPath"`
	Type     string `json:"type"` // "view" or "table"

	DatasourceID   string `json:"datasourceId,omitempty"`
	DatasourceName string `json:"datasourceName,omitempty"`
	Provider       string `json:"provider,omitempty"`
}

// ListSheets merges the view registry with live catalog introspection into
// a unified listing. The registry is authoritative for native sources and
// self-heals: a registered view that no longer answers is removed instead
// of listed. Foreign tables come from the live catalog of each attached
// datasource. The result never contains two entries with the same
// (name, fullPath) pair.
func (m *Manager) ListSheets(ctx context.Context, workspace, conversationID string) ([]SheetEntry, error) {
	sess, err := m.Session(workspace, conversationID)
	if err != nil {
		return nil, err
	}

	handle, err := m.Acquire(ctx, sess)
	if err != nil {
		return nil, err
	}
	defer m.Release(handle)

	// The self-heal path mutates the view registry, so listing holds the
	// same lock as reconciliation.
	sess.syncMu.Lock()
	defer sess.syncMu.Unlock()

	return m.listSheets(ctx, sess, handle.Conn())
}

func (m *Manager) listSheets(ctx context.Context, sess *Session, conn Conn) ([]SheetEntry, error) {
	var entries []SheetEntry
	// seen holds "name\x00fullPath" pairs already emitted; emitted holds
	// bare names claimed by the registry pass.
	seen := make(map[string]bool)
	emitted := make(map[string]bool)

	emit := func(e SheetEntry) {
		key := e.Name + "\x00" + e.FullPath
		if seen[key] {
			return
		}
		seen[key] = true
		entries = append(entries, e)
	}

	// First pass: registered views, probing that each still answers.
	for id, viewName := range sess.ViewRegistry() {
		if !viewExists(ctx, conn, viewName) {
			// Dropped or renamed outside the manager: heal the registry.
			sess.mu.Lock()
			delete(sess.views, id)
			sess.mu.Unlock()
			slog.Info("Removed stale view registry entry.",
				"conversation", sess.ConversationID, "datasource", id, "view", viewName)
			continue
		}
		entry := SheetEntry{Name: viewName, FullPath: viewName, Type: "view", DatasourceID: id}
		if ds, err := m.repo.FindByID(ctx, id); err == nil {
			entry.DatasourceName = ds.Name
			entry.Provider = ds.Provider
		}
		emit(entry)
		emitted[viewName] = true
	}

	// Second pass: tables behind attached foreign catalogs, via the same
	// introspection path attachment uses. The per-datasource catalog name
	// re-derives from the id, which is how a fully-qualified path maps
	// back to its owning datasource.
	for _, id := range sess.AttachedDatasources() {
		catalogName, err := CatalogName(id)
		if err != nil {
			continue
		}

		var name, provider string
		mapping := familyMapping(FamilySQLite) // engine-catalog enumeration fallback
		if ds, err := m.repo.FindByID(ctx, id); err == nil {
			name, provider = ds.Name, ds.Provider
			if resolved, err := resolveMapping(ds.Provider, m.ext); err == nil {
				mapping = resolved
			}
		} else {
			slog.Warn("Attached datasource no longer resolves, listing by catalog only.",
				"conversation", sess.ConversationID, "datasource", id, "error", err)
		}

		tables, err := enumerateTables(ctx, conn, mapping, catalogName, AttachOptions{})
		if err != nil {
			slog.Warn("Failed to introspect attached catalog, skipping it.",
				"conversation", sess.ConversationID, "datasource", id, "catalog", catalogName, "error", err)
			continue
		}
		for _, t := range tables {
			if emitted[t.Name] {
				// The registry already claimed this bare name.
				continue
			}
			emit(SheetEntry{
				Name:           t.Name,
				FullPath:       fmt.Sprintf("%s.%s.%s", catalogName, t.Schema, t.Name),
				Type:           "table",
				DatasourceID:   id,
				DatasourceName: name,
				Provider:       provider,
			})
		}
	}

	// Third pass: objects in the session's own catalog that nothing
	// registered, e.g. tables the agent created. Classified best effort
	// from the catalog's own table_type.
	rows, err := conn.QueryContext(ctx,
		`SELECT table_name, table_type FROM information_schema.tables WHERE table_schema = 'main'`)
	if err != nil {
		return entries, nil
	}
	defer rows.Close()
	for rows.Next() {
		var tableName, tableType string
		if err := rows.Scan(&tableName, &tableType); err != nil {
			break
		}
		if emitted[tableName] || IsSystemTable(tableName) {
			continue
		}
		typ := "table"
		if strings.Contains(strings.ToUpper(tableType), "VIEW") {
			typ = "view"
		}
		emit(SheetEntry{Name: tableName, FullPath: tableName, Type: typ})
	}

	return entries, nil
}

// viewExists probes that a registered view still answers a trivial query.
func viewExists(ctx context.Context, conn Conn, viewName string) bool {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`SELECT 1 FROM "%s" WHERE 1 = 0`, viewName))
	if err != nil {
		return false
	}
	rows.Close()
	return true
}

// RenameSheet renames a view or table in the session catalog and keeps the
// view registry in step when the renamed object is a registered view. The
// new name is sanitized first; a taken name fails with NameCollisionError.
func (m *Manager) RenameSheet(ctx context.Context, workspace, conversationID, oldName, newName string) (string, error) {
	sanitized, err := SanitizeIdentifier(newName)
	if err != nil {
		return "", fmt.Errorf("invalid new name %q: %w", newName, err)
	}
	if sanitized == oldName {
		// "Sales" -> "sales" style requests sanitize to the current name;
		// nothing to do and no collision with itself.
		return sanitized, nil
	}

	sess, err := m.Session(workspace, conversationID)
	if err != nil {
		return "", err
	}
	handle, err := m.Acquire(ctx, sess)
	if err != nil {
		return "", err
	}
	defer m.Release(handle)

	sess.syncMu.Lock()
	defer sess.syncMu.Unlock()
	conn := handle.Conn()

	if _, ok := sheetType(ctx, conn, sanitized); ok {
		return "", &NameCollisionError{Name: sanitized}
	}

	typ, ok := sheetType(ctx, conn, oldName)
	if !ok {
		return "", fmt.Errorf("sheet %q not found in conversation %s", oldName, conversationID)
	}

	stmt := fmt.Sprintf(`ALTER %s "%s" RENAME TO "%s"`, typ, oldName, sanitized)
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return "", fmt.Errorf("rename %q to %q: %w", oldName, sanitized, err)
	}

	sess.mu.Lock()
	for id, viewName := range sess.views {
		if viewName == oldName {
			sess.views[id] = sanitized
			break
		}
	}
	sess.mu.Unlock()

	slog.Info("Renamed sheet.", "conversation", conversationID, "from", oldName, "to", sanitized)
	return sanitized, nil
}

// DeleteSheet drops a view or table from the session catalog and removes
// any view registry entry pointing at it.
func (m *Manager) DeleteSheet(ctx context.Context, workspace, conversationID, name string) error {
	sess, err := m.Session(workspace, conversationID)
	if err != nil {
		return err
	}
	handle, err := m.Acquire(ctx, sess)
	if err != nil {
		return err
	}
	defer m.Release(handle)

	sess.syncMu.Lock()
	defer sess.syncMu.Unlock()
	conn := handle.Conn()

	typ, ok := sheetType(ctx, conn, name)
	if !ok {
		return fmt.Errorf("sheet %q not found in conversation %s", name, conversationID)
	}

	if _, err := conn.ExecContext(ctx, fmt.Sprintf(`DROP %s "%s"`, typ, name)); err != nil {
		return fmt.Errorf("delete sheet %q: %w", name, err)
	}

	sess.mu.Lock()
	for id, viewName := range sess.views {
		if viewName == name {
			delete(sess.views, id)
			break
		}
	}
	sess.mu.Unlock()

	slog.Info("Deleted sheet.", "conversation", conversationID, "sheet", name)
	return nil
}

// sheetType looks up an object in the session's main schema and returns
// the DDL keyword ("VIEW" or "TABLE") addressing it.
func sheetType(ctx context.Context, conn Conn, name string) (string, bool) {
	var tableType string
	err := conn.QueryRowContext(ctx,
		`SELECT table_type FROM information_schema.tables WHERE table_schema = 'main' AND table_name = ?`,
		name).Scan(&tableType)
	if err != nil {
		if err != sql.ErrNoRows {
			slog.Debug("Failed to look up sheet type.", "sheet", name, "error", err)
		}
		return "", false
	}
	if strings.Contains(strings.ToUpper(tableType), "VIEW") {
		return "VIEW", true
	}
	return "TABLE", true
}
