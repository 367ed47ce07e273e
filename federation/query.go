package federation

import (
	"context"
	"fmt"
)

// QueryResult carries the rows of one chat query in column order.
type QueryResult struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Query runs one query on a pooled session connection. When checkedIDs is
// non-nil the reconciler runs first on the same connection, so the query
// sees exactly the datasources the caller has enabled.
func (m *Manager) Query(ctx context.Context, workspace, conversationID string, checkedIDs []string, query string) (*QueryResult, error) {
	sess, err := m.Session(workspace, conversationID)
	if err != nil {
		return nil, err
	}

	handle, err := m.Acquire(ctx, sess)
	if err != nil {
		return nil, err
	}
	defer m.Release(handle)

	if checkedIDs != nil {
		sess.syncMu.Lock()
		err := m.reconcile(ctx, sess, handle.Conn(), checkedIDs)
		sess.syncMu.Unlock()
		if err != nil {
			return nil, err
		}
	}

	rows, err := handle.Conn().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read result columns: %w", err)
	}

	result := &QueryResult{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		scan := make([]any, len(columns))
		for i := range values {
			scan[i] = &values[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read result rows: %w", err)
	}
	return result, nil
}
