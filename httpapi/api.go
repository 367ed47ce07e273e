// Package httpapi is the HTTP surface the chat UI and agent tools call:
// datasource sync, sheet listing and management, and query execution, all
// scoped to one workspace per process.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sheetstack/duckfed/federation"
)

// SessionManager is the slice of the federation manager the API needs.
type SessionManager interface {
	SyncDatasources(ctx context.Context, workspace, conversationID string, checkedIDs []string) error
	ListSheets(ctx context.Context, workspace, conversationID string) ([]federation.SheetEntry, error)
	Query(ctx context.Context, workspace, conversationID string, checkedIDs []string, query string) (*federation.QueryResult, error)
	RenameSheet(ctx context.Context, workspace, conversationID, oldName, newName string) (string, error)
	DeleteSheet(ctx context.Context, workspace, conversationID, name string) error
	CloseSession(workspace, conversationID string)
}

// Server serves the federation API for a single workspace.
type Server struct {
	workspace string
	mgr       SessionManager
	router    *gin.Engine
}

// New builds the API server for the given workspace.
func New(workspace string, mgr SessionManager) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{workspace: workspace, mgr: mgr, router: gin.New()}

	s.router.Use(gin.Recovery(), requestID())

	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/v1/conversations/:conversation")
	v1.POST("/sync", s.handleSync)
	v1.GET("/sheets", s.handleListSheets)
	v1.POST("/query", s.handleQuery)
	v1.POST("/sheets/rename", s.handleRenameSheet)
	v1.DELETE("/sheets/:name", s.handleDeleteSheet)
	v1.DELETE("", s.handleCloseConversation)

	return s
}

// Handler returns the root http.Handler for serving.
func (s *Server) Handler() http.Handler { return s.router }

// requestID tags every request with an id for log correlation.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-Id", id)
		c.Set("requestID", id)
		c.Next()
	}
}

type syncRequest struct {
	Checked []string `json:"checked"`
}

func (s *Server) handleSync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conversation := c.Param("conversation")
	if err := s.mgr.SyncDatasources(c.Request.Context(), s.workspace, conversation, req.Checked); err != nil {
		s.fail(c, conversation, "sync datasources", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "synced"})
}

func (s *Server) handleListSheets(c *gin.Context) {
	conversation := c.Param("conversation")
	entries, err := s.mgr.ListSheets(c.Request.Context(), s.workspace, conversation)
	if err != nil {
		s.fail(c, conversation, "list sheets", err)
		return
	}
	if entries == nil {
		entries = []federation.SheetEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"sheets": entries})
}

type queryRequest struct {
	SQL     string   `json:"sql" binding:"required"`
	Checked []string `json:"checked"`
}

func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conversation := c.Param("conversation")
	result, err := s.mgr.Query(c.Request.Context(), s.workspace, conversation, req.Checked, req.SQL)
	if err != nil {
		s.fail(c, conversation, "execute query", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type renameRequest struct {
	From string `json:"from" binding:"required"`
	To   string `json:"to" binding:"required"`
}

func (s *Server) handleRenameSheet(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conversation := c.Param("conversation")
	newName, err := s.mgr.RenameSheet(c.Request.Context(), s.workspace, conversation, req.From, req.To)
	if err != nil {
		var collision *federation.NameCollisionError
		if errors.As(err, &collision) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		s.fail(c, conversation, "rename sheet", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": newName})
}

func (s *Server) handleDeleteSheet(c *gin.Context) {
	conversation := c.Param("conversation")
	if err := s.mgr.DeleteSheet(c.Request.Context(), s.workspace, conversation, c.Param("name")); err != nil {
		s.fail(c, conversation, "delete sheet", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleCloseConversation(c *gin.Context) {
	s.mgr.CloseSession(s.workspace, c.Param("conversation"))
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

func (s *Server) fail(c *gin.Context, conversation, op string, err error) {
	slog.Warn("Request failed.",
		"op", op, "conversation", conversation,
		"request_id", c.GetString("requestID"), "error", err)

	status := http.StatusInternalServerError
	if errors.Is(err, federation.ErrPoolExhausted) {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
