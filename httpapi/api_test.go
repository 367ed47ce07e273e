package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sheetstack/duckfed/federation"
)

type stubManager struct {
	syncedChecked []string
	syncErr       error

	sheets   []federation.SheetEntry
	listErr  error
	queryErr error

	queriedSQL     string
	queriedChecked []string

	renamedFrom, renamedTo string
	renameErr              error

	deleted string
	closed  string
}

func (s *stubManager) SyncDatasources(_ context.Context, _, _ string, checkedIDs []string) error {
	s.syncedChecked = checkedIDs
	return s.syncErr
}

func (s *stubManager) ListSheets(_ context.Context, _, _ string) ([]federation.SheetEntry, error) {
	return s.sheets, s.listErr
}

func (s *stubManager) Query(_ context.Context, _, _ string, checkedIDs []string, query string) (*federation.QueryResult, error) {
	s.queriedSQL = query
	s.queriedChecked = checkedIDs
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return &federation.QueryResult{Columns: []string{"n"}, Rows: [][]any{{int64(1)}}}, nil
}

func (s *stubManager) RenameSheet(_ context.Context, _, _, oldName, newName string) (string, error) {
	s.renamedFrom, s.renamedTo = oldName, newName
	if s.renameErr != nil {
		return "", s.renameErr
	}
	return newName, nil
}

func (s *stubManager) DeleteSheet(_ context.Context, _, _, name string) error {
	s.deleted = name
	return nil
}

func (s *stubManager) CloseSession(_, conversationID string) {
	s.closed = conversationID
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestSyncEndpoint(t *testing.T) {
	stub := &stubManager{}
	srv := New("ws", stub)

	w := doRequest(t, srv, http.MethodPost, "/v1/conversations/conv-1/sync", `{"checked":["pg-1","csv-2"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	if len(stub.syncedChecked) != 2 || stub.syncedChecked[0] != "pg-1" {
		t.Errorf("checked ids = %v, want [pg-1 csv-2]", stub.syncedChecked)
	}
}

func TestSyncEndpointEmptyChecked(t *testing.T) {
	stub := &stubManager{}
	srv := New("ws", stub)

	w := doRequest(t, srv, http.MethodPost, "/v1/conversations/conv-1/sync", `{"checked":[]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	if stub.syncedChecked == nil || len(stub.syncedChecked) != 0 {
		t.Errorf("checked ids = %v, want empty non-nil slice", stub.syncedChecked)
	}
}

func TestSyncEndpointFailure(t *testing.T) {
	stub := &stubManager{syncErr: errors.New("boom")}
	srv := New("ws", stub)

	w := doRequest(t, srv, http.MethodPost, "/v1/conversations/conv-1/sync", `{"checked":["pg-1"]}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestListSheetsEndpoint(t *testing.T) {
	stub := &stubManager{sheets: []federation.SheetEntry{
		{Name: "orders", FullPath: "ds_pg_1.public.orders", Type: "table", DatasourceID: "pg-1"},
	}}
	srv := New("ws", stub)

	w := doRequest(t, srv, http.MethodGet, "/v1/conversations/conv-1/sheets", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Sheets []federation.SheetEntry `json:"sheets"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Sheets) != 1 || resp.Sheets[0].FullPath != "ds_pg_1.public.orders" {
		t.Errorf("sheets = %+v", resp.Sheets)
	}
}

func TestListSheetsEndpointEmpty(t *testing.T) {
	srv := New("ws", &stubManager{})

	w := doRequest(t, srv, http.MethodGet, "/v1/conversations/conv-1/sheets", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"sheets":[]`) {
		t.Errorf("body = %s, want empty sheets array", w.Body.String())
	}
}

func TestQueryEndpoint(t *testing.T) {
	stub := &stubManager{}
	srv := New("ws", stub)

	w := doRequest(t, srv, http.MethodPost, "/v1/conversations/conv-1/query",
		`{"sql":"SELECT 1 AS n","checked":["pg-1"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	if stub.queriedSQL != "SELECT 1 AS n" {
		t.Errorf("sql = %q", stub.queriedSQL)
	}
	if len(stub.queriedChecked) != 1 || stub.queriedChecked[0] != "pg-1" {
		t.Errorf("checked = %v", stub.queriedChecked)
	}

	var result federation.QueryResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(result.Columns) != 1 || result.Columns[0] != "n" {
		t.Errorf("columns = %v", result.Columns)
	}
}

func TestQueryEndpointRequiresSQL(t *testing.T) {
	srv := New("ws", &stubManager{})

	w := doRequest(t, srv, http.MethodPost, "/v1/conversations/conv-1/query", `{"checked":[]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestQueryEndpointPoolExhausted(t *testing.T) {
	srv := New("ws", &stubManager{queryErr: federation.ErrPoolExhausted})

	w := doRequest(t, srv, http.MethodPost, "/v1/conversations/conv-1/query", `{"sql":"SELECT 1"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestRenameSheetEndpoint(t *testing.T) {
	stub := &stubManager{}
	srv := New("ws", stub)

	w := doRequest(t, srv, http.MethodPost, "/v1/conversations/conv-1/sheets/rename",
		`{"from":"monthly_sales","to":"q3_sales"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	if stub.renamedFrom != "monthly_sales" || stub.renamedTo != "q3_sales" {
		t.Errorf("rename args = %q -> %q", stub.renamedFrom, stub.renamedTo)
	}
}

func TestRenameSheetEndpointCollision(t *testing.T) {
	stub := &stubManager{renameErr: &federation.NameCollisionError{Name: "q3_sales"}}
	srv := New("ws", stub)

	w := doRequest(t, srv, http.MethodPost, "/v1/conversations/conv-1/sheets/rename",
		`{"from":"monthly_sales","to":"q3_sales"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestDeleteSheetEndpoint(t *testing.T) {
	stub := &stubManager{}
	srv := New("ws", stub)

	w := doRequest(t, srv, http.MethodDelete, "/v1/conversations/conv-1/sheets/monthly_sales", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if stub.deleted != "monthly_sales" {
		t.Errorf("deleted = %q", stub.deleted)
	}
}

func TestCloseConversationEndpoint(t *testing.T) {
	stub := &stubManager{}
	srv := New("ws", stub)

	w := doRequest(t, srv, http.MethodDelete, "/v1/conversations/conv-9", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if stub.closed != "conv-9" {
		t.Errorf("closed conversation = %q, want conv-9", stub.closed)
	}
}

func TestHealthz(t *testing.T) {
	srv := New("ws", &stubManager{})

	w := doRequest(t, srv, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := New("ws", &stubManager{})

	w := doRequest(t, srv, http.MethodGet, "/healthz", "")
	if w.Header().Get("X-Request-Id") == "" {
		t.Error("response missing X-Request-Id header")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "fixed-id")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "fixed-id" {
		t.Errorf("X-Request-Id = %q, want fixed-id", got)
	}
}
