package federation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
)

// sessionFileName is the embedded database file backing a conversation.
// It is the only durable state; everything else is rebuilt by re-running
// sync against the live catalog.
const sessionFileName = "session.duckdb"

// Config tunes a Manager. Zero values fall back to the defaults below.
type Config struct {
	// MaxConnections bounds each session's connection pool.
	MaxConnections int
	// AcquireTimeout bounds how long Acquire blocks on an exhausted pool
	// before failing with ErrPoolExhausted.
	AcquireTimeout time.Duration
	// ProbeTables and DescribeColumns are passed through to the foreign
	// attachment procedure.
	ProbeTables     bool
	DescribeColumns bool
}

const (
	defaultMaxConnections = 4
	defaultAcquireTimeout = 30 * time.Second
)

// Manager owns every conversation session in the process. It is
// constructed explicitly and passed around (no ambient global state) so
// session lifecycle stays testable. All collaborators are injected.
type Manager struct {
	cfg    Config
	repo   DatasourceRepository
	ingest Ingestor
	ext    ExtensionResolver

	// openDB opens the embedded database; replaced in tests.
	openDB func(path string) (*sql.DB, error)

	mu       sync.Mutex
	sessions map[sessionKey]*Session
}

type sessionKey struct {
	workspace      string
	conversationID string
}

// NewManager creates a Manager with the given collaborators. ext may be
// nil when no extension-metadata fallback is available.
func NewManager(cfg Config, repo DatasourceRepository, ingest Ingestor, ext ExtensionResolver) *Manager {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaultMaxConnections
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaultAcquireTimeout
	}
	return &Manager{
		cfg:      cfg,
		repo:     repo,
		ingest:   ingest,
		ext:      ext,
		openDB:   openDuckDB,
		sessions: make(map[sessionKey]*Session),
	}
}

func openDuckDB(path string) (*sql.DB, error) {
	return sql.Open("duckdb", path)
}

// Session is the per-conversation owner of one embedded-engine instance,
// its bounded connection pool, and the attachment/view state applied to
// that instance's live connections.
type Session struct {
	Workspace      string
	ConversationID string

	db     *sql.DB
	tokens chan struct{} // capacity = MaxConnections; one token per live handle

	mu     sync.Mutex
	idle   []*sql.Conn
	active int
	closed bool

	// syncMu serializes reconciliation for this session: the diff-then-act
	// algorithm is not safe to interleave.
	syncMu sync.Mutex

	// attached is the set of foreign datasource ids currently ATTACHed;
	// views maps natively-ingested datasource ids to their view names.
	// A datasource id lives in at most one of the two.
	attached map[string]bool
	views    map[string]string
}

// ConnectionHandle is a pooled connection borrowed from a session. The
// caller owns it exclusively for one operation and must return it through
// Release on every path, or the pool permanently loses capacity.
type ConnectionHandle struct {
	sess *Session
	conn *sql.Conn
}

// Conn exposes the underlying connection for query execution.
func (h *ConnectionHandle) Conn() *sql.Conn { return h.conn }

// Session returns the live session for (workspace, conversationID),
// creating it on first access: the backing directory is allocated under
// workspace/<conversationID>/ and exactly one engine instance is opened
// against it. Idempotent; repeated calls return the same object.
func (m *Manager) Session(workspace, conversationID string) (*Session, error) {
	key := sessionKey{workspace: workspace, conversationID: conversationID}

	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[key]; ok {
		return sess, nil
	}

	dir := filepath.Join(workspace, conversationID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create session directory %s: %w", dir, err)
	}

	db, err := m.openDB(filepath.Join(dir, sessionFileName))
	if err != nil {
		return nil, fmt.Errorf("open session database for conversation %s: %w", conversationID, err)
	}

	sess := &Session{
		Workspace:      workspace,
		ConversationID: conversationID,
		db:             db,
		tokens:         make(chan struct{}, m.cfg.MaxConnections),
		attached:       make(map[string]bool),
		views:          make(map[string]string),
	}
	m.sessions[key] = sess
	sessionsGauge.Set(float64(len(m.sessions)))

	slog.Info("Created session.", "workspace", workspace, "conversation", conversationID)
	return sess, nil
}

// Acquire borrows a connection from the session pool: an idle connection
// if one exists, a fresh one while under the cap, otherwise it blocks
// until a handle is released, the context is cancelled, or the acquire
// timeout elapses. The token channel makes acquisition linearizable; the
// pool can never overcommit past its capacity.
func (m *Manager) Acquire(ctx context.Context, sess *Session) (*ConnectionHandle, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.AcquireTimeout)
	defer cancel()

	select {
	case sess.tokens <- struct{}{}:
	case <-ctx.Done():
		// An abandoned request is not pool pressure: only a deadline counts
		// as exhaustion.
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, fmt.Errorf("acquire connection for conversation %s: %w", sess.ConversationID, ctx.Err())
		}
		poolAcquireTimeoutsCounter.Inc()
		return nil, fmt.Errorf("acquire connection for conversation %s: %w", sess.ConversationID, ErrPoolExhausted)
	}

	conn, err := sess.checkout(ctx)
	if err != nil {
		<-sess.tokens
		return nil, err
	}
	poolActiveGauge.Inc()
	return &ConnectionHandle{sess: sess, conn: conn}, nil
}

func (s *Session) checkout(ctx context.Context) (*sql.Conn, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if n := len(s.idle); n > 0 {
		conn := s.idle[n-1]
		s.idle = s.idle[:n-1]
		s.active++
		s.mu.Unlock()
		return conn, nil
	}
	s.active++
	db := s.db
	s.mu.Unlock()

	conn, err := db.Conn(ctx)
	if err != nil {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
		return nil, fmt.Errorf("open connection: %w", err)
	}
	return conn, nil
}

// Release returns a handle to its session pool. If the session was closed
// while the handle was out, the connection is closed instead of pooled.
// Safe to call exactly once per acquired handle; nil handles are ignored.
func (m *Manager) Release(h *ConnectionHandle) {
	if h == nil || h.sess == nil {
		return
	}
	s := h.sess

	s.mu.Lock()
	if s.active > 0 {
		s.active--
	}
	closed := s.closed
	if !closed {
		s.idle = append(s.idle, h.conn)
	}
	s.mu.Unlock()

	if closed {
		if err := h.conn.Close(); err != nil {
			slog.Warn("Failed to close connection for closed session.",
				"conversation", s.ConversationID, "error", err)
		}
	}

	poolActiveGauge.Dec()
	<-s.tokens
	h.sess = nil
	h.conn = nil
}

// CloseSession drains the pool, closes the engine instance, and removes
// the registry entry. No-op for a key that was never created.
func (m *Manager) CloseSession(workspace, conversationID string) {
	key := sessionKey{workspace: workspace, conversationID: conversationID}

	m.mu.Lock()
	sess, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
		sessionsGauge.Set(float64(len(m.sessions)))
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	sess.close()
	slog.Info("Closed session.", "workspace", workspace, "conversation", conversationID)
}

// CloseAll closes every session. Used at process shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[sessionKey]*Session)
	sessionsGauge.Set(0)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
}

func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	idle := s.idle
	s.idle = nil
	s.mu.Unlock()

	for _, conn := range idle {
		if err := conn.Close(); err != nil {
			slog.Warn("Failed to close idle connection.",
				"conversation", s.ConversationID, "error", err)
		}
	}
	if err := s.db.Close(); err != nil {
		slog.Warn("Failed to close session database.",
			"conversation", s.ConversationID, "error", err)
	}
}

// AttachedDatasources returns the foreign datasource ids currently
// attached, for diagnostics.
func (s *Session) AttachedDatasources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.attached))
	for id := range s.attached {
		out = append(out, id)
	}
	return out
}

// ViewRegistry returns a copy of the datasource id to view name mapping.
func (s *Session) ViewRegistry() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.views))
	for k, v := range s.views {
		out[k] = v
	}
	return out
}
