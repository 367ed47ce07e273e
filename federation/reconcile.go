package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// SyncDatasources brings the session's attachment/view state in line with
// the caller's desired checked-id set: foreign sources in the set are
// attached, native sources are materialized as views, and anything no
// longer in the set is detached or dropped. Failures are isolated per
// datasource; one bad source never blocks the others, it is simply absent
// from the next listing. Concurrent syncs for the same session are
// serialized.
func (m *Manager) SyncDatasources(ctx context.Context, workspace, conversationID string, checkedIDs []string) error {
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

	return m.reconcile(ctx, sess, handle.Conn(), checkedIDs)
}

// reconcile is the diff-then-act core of sync. Removal precedes addition
// (detach/drop before attach/create) so a datasource toggled off and back
// on within the same call never collides with its own previous name.
func (m *Manager) reconcile(ctx context.Context, sess *Session, conn Conn, checkedIDs []string) error {
	checked := make(map[string]bool, len(checkedIDs))
	for _, id := range checkedIDs {
		checked[id] = true
	}

	sess.mu.Lock()
	attached := make(map[string]bool, len(sess.attached))
	for id := range sess.attached {
		attached[id] = true
	}
	views := make(map[string]string, len(sess.views))
	for id, name := range sess.views {
		views[id] = name
	}
	sess.mu.Unlock()

	// Resolve every datasource the diff touches. A failed lookup (stale or
	// deleted registry entry) only disables additions for that id; removal
	// needs nothing but the id itself.
	records := make(map[string]*Datasource)
	for _, id := range unionIDs(checkedIDs, attached, views) {
		ds, err := m.repo.FindByID(ctx, id)
		if err != nil {
			if checked[id] {
				slog.Warn("Failed to resolve checked datasource, skipping it.",
					"conversation", sess.ConversationID, "datasource", id, "error", err)
			}
			continue
		}
		records[id] = ds
	}

	// Detach foreign datasources that are no longer checked.
	for id := range attached {
		if checked[id] {
			continue
		}
		if err := DetachForeignDatasource(ctx, conn, id); err != nil {
			syncFailuresCounter.WithLabelValues("detach").Inc()
			slog.Warn("Failed to detach datasource.",
				"conversation", sess.ConversationID, "datasource", id, "error", err)
			continue
		}
		sess.mu.Lock()
		delete(sess.attached, id)
		sess.mu.Unlock()
		delete(attached, id)
	}

	// Drop views for natively-ingested datasources that are no longer checked.
	for id, viewName := range views {
		if checked[id] {
			continue
		}
		if err := dropView(ctx, conn, viewName); err != nil {
			syncFailuresCounter.WithLabelValues("drop_view").Inc()
			slog.Warn("Failed to drop view.",
				"conversation", sess.ConversationID, "datasource", id, "view", viewName, "error", err)
			continue
		}
		sess.mu.Lock()
		delete(sess.views, id)
		sess.mu.Unlock()
		delete(views, id)
	}

	// Attach newly checked foreign datasources and materialize newly
	// checked native ones. A datasource id lives in at most one of the
	// attachment set and the view registry; a source that changed kind
	// sheds its old representation first.
	for _, id := range checkedIDs {
		ds, ok := records[id]
		if !ok {
			continue
		}

		switch classify(ds, m.ext) {
		case KindForeign:
			if attached[id] {
				continue
			}
			if viewName, ok := views[id]; ok {
				if err := dropView(ctx, conn, viewName); err != nil {
					slog.Warn("Failed to drop view for datasource switching to foreign attachment.",
						"conversation", sess.ConversationID, "datasource", id, "view", viewName, "error", err)
					continue
				}
				sess.mu.Lock()
				delete(sess.views, id)
				sess.mu.Unlock()
				delete(views, id)
			}

			opts := AttachOptions{ProbeTables: m.cfg.ProbeTables, DescribeColumns: m.cfg.DescribeColumns}
			result, err := AttachForeignDatasource(ctx, conn, ds, m.ext, opts)
			if err != nil {
				var missing *MissingConfigError
				if errors.As(err, &missing) {
					// Expected while the user is still filling in credentials.
					slog.Debug("Datasource not configured yet, skipping.",
						"conversation", sess.ConversationID, "datasource", id, "field", missing.Field)
					continue
				}
				syncFailuresCounter.WithLabelValues("attach").Inc()
				slog.Warn("Failed to attach datasource.",
					"conversation", sess.ConversationID, "datasource", id, "error", err)
				continue
			}
			sess.mu.Lock()
			sess.attached[id] = true
			sess.mu.Unlock()
			attached[id] = true
			slog.Info("Attached foreign datasource.",
				"conversation", sess.ConversationID, "datasource", id,
				"catalog", result.CatalogName, "tables", len(result.Tables))

		case KindNative:
			if _, ok := views[id]; ok {
				continue
			}
			if attached[id] {
				if err := DetachForeignDatasource(ctx, conn, id); err != nil {
					slog.Warn("Failed to detach datasource switching to native ingestion.",
						"conversation", sess.ConversationID, "datasource", id, "error", err)
					continue
				}
				sess.mu.Lock()
				delete(sess.attached, id)
				sess.mu.Unlock()
				delete(attached, id)
			}

			viewName, err := m.ingest.Materialize(ctx, conn, ds)
			if err != nil {
				// A name collision is resolved by registry ownership: a view
				// name held by another datasource stays theirs and this one
				// fails; a name nobody registered is a leftover from an
				// earlier process and is dropped before one retry.
				var collision *NameCollisionError
				if errors.As(err, &collision) {
					if owner := viewOwner(views, collision.Name); owner != "" && owner != id {
						syncFailuresCounter.WithLabelValues("materialize").Inc()
						slog.Warn("View name already belongs to another datasource, skipping.",
							"conversation", sess.ConversationID, "datasource", id,
							"owner", owner, "view", collision.Name)
						continue
					}
					if dropErr := dropView(ctx, conn, collision.Name); dropErr == nil {
						viewName, err = m.ingest.Materialize(ctx, conn, ds)
					}
				}
				if err != nil {
					syncFailuresCounter.WithLabelValues("materialize").Inc()
					slog.Warn("Failed to materialize datasource.",
						"conversation", sess.ConversationID, "datasource", id, "error", err)
					continue
				}
			}
			sess.mu.Lock()
			sess.views[id] = viewName
			sess.mu.Unlock()
			views[id] = viewName
			slog.Info("Materialized native datasource.",
				"conversation", sess.ConversationID, "datasource", id, "view", viewName)
		}
	}

	return nil
}

func dropView(ctx context.Context, conn Conn, viewName string) error {
	if _, err := conn.ExecContext(ctx, fmt.Sprintf(`DROP VIEW IF EXISTS "%s"`, viewName)); err != nil {
		if isMissingObject(err) {
			return nil
		}
		return err
	}
	return nil
}

// viewOwner returns the datasource id registered against viewName, or ""
// when no id holds it.
func viewOwner(views map[string]string, viewName string) string {
	for id, name := range views {
		if name == viewName {
			return id
		}
	}
	return ""
}

func unionIDs(checkedIDs []string, attached map[string]bool, views map[string]string) []string {
	seen := make(map[string]bool, len(checkedIDs)+len(attached)+len(views))
	var out []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range checkedIDs {
		add(id)
	}
	for id := range attached {
		add(id)
	}
	for id := range views {
		add(id)
	}
	return out
}
