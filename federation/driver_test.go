package federation

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sync"
)

// fakeDB is a scripted database/sql driver for exercising the attachment,
// reconciliation, and listing procedures without an embedded engine. Every
// statement is recorded; behavior is driven by the exec/query handlers.
type fakeDB struct {
	mu  sync.Mutex
	log []string

	// exec decides the outcome of ExecContext statements. nil means
	// every statement succeeds.
	exec func(query string) error
	// query produces result sets for QueryContext statements. nil means
	// every query returns zero rows with no columns.
	query func(query string, args []driver.Value) (cols []string, rows [][]driver.Value, err error)
}

func newFakeDB() *fakeDB {
	return &fakeDB{}
}

// sqlDB wraps the fake in a real *sql.DB so code under test runs through
// the standard connection plumbing.
func (f *fakeDB) sqlDB() *sql.DB {
	return sql.OpenDB(fakeConnector{f})
}

func (f *fakeDB) record(query string) {
	f.mu.Lock()
	f.log = append(f.log, query)
	f.mu.Unlock()
}

// statements returns a copy of every statement seen so far.
func (f *fakeDB) statements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

func (f *fakeDB) sawStatement(match func(string) bool) bool {
	for _, s := range f.statements() {
		if match(s) {
			return true
		}
	}
	return false
}

type fakeConnector struct{ db *fakeDB }

func (c fakeConnector) Connect(context.Context) (driver.Conn, error) { return &fakeConn{db: c.db}, nil }
func (c fakeConnector) Driver() driver.Driver                        { return fakeDriver{} }

type fakeDriver struct{}

func (fakeDriver) Open(string) (driver.Conn, error) { return nil, errors.New("use OpenDB") }

type fakeConn struct{ db *fakeDB }

func (c *fakeConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepared statements not supported by fake driver")
}
func (c *fakeConn) Close() error              { return nil }
func (c *fakeConn) Begin() (driver.Tx, error) { return nil, errors.New("transactions not supported") }

func (c *fakeConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.db.record(query)
	if c.db.exec != nil {
		if err := c.db.exec(query); err != nil {
			return nil, err
		}
	}
	return driver.RowsAffected(0), nil
}

func (c *fakeConn) QueryContext(_ context.Context, query string, named []driver.NamedValue) (driver.Rows, error) {
	c.db.record(query)
	args := make([]driver.Value, len(named))
	for i, nv := range named {
		args[i] = nv.Value
	}
	if c.db.query == nil {
		return &fakeRows{}, nil
	}
	cols, rows, err := c.db.query(query, args)
	if err != nil {
		return nil, err
	}
	return &fakeRows{cols: cols, rows: rows}, nil
}

type fakeRows struct {
	cols []string
	rows [][]driver.Value
	pos  int
}

func (r *fakeRows) Columns() []string { return r.cols }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	row := r.rows[r.pos]
	if len(row) != len(dest) {
		return fmt.Errorf("fake row has %d values, want %d", len(row), len(dest))
	}
	copy(dest, row)
	r.pos++
	return nil
}

// testConn opens one connection from the fake database, failing the test
// helper's caller on error.
func testConn(t interface {
	Helper()
	Fatalf(string, ...any)
}, db *sql.DB) *sql.Conn {
	t.Helper()
	conn, err := db.Conn(context.Background())
	if err != nil {
		t.Fatalf("open fake connection: %v", err)
	}
	return conn
}
