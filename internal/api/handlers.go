package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/0x6d61/warden/internal/fixer"
	"github.com/0x6d61/warden/internal/history"
	"github.com/0x6d61/warden/internal/params"
	"github.com/0x6d61/warden/internal/plugin"
	"github.com/0x6d61/warden/internal/service"
	"github.com/0x6d61/warden/internal/severity"
)

type analyzeRequest struct {
	Path string `json:"path"`
}

type fixRequest struct {
	Path    string   `json:"path"`
	RuleIDs []string `json:"rule_ids"`
	Backup  *bool    `json:"backup"`
}

type autoFixRequest struct {
	Path    string `json:"path"`
	Backup  *bool  `json:"backup"`
	Restart bool   `json:"restart"`
}

type restartRequest struct {
	Service string `json:"service"`
}

type restartResponse struct {
	Service string `json:"service"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type attackRequest struct {
	Target  string        `json:"target" binding:"required"`
	Options params.Params `json:"options"`
}

// bind decodes an optional JSON body. An empty body leaves v zeroed.
func bind(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// fail maps an error to a status code.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var initErr *plugin.InitializationError
	switch {
	case service.IsNotFound(err), errors.Is(err, history.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &initErr):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// backup returns the request's choice, or the configured default.
func (s *Server) backup(b *bool) bool {
	if b == nil {
		return !s.cfg.NoBackup
	}
	return *b
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.cfg.Version})
}

func (s *Server) handleListPlugins(c *gin.Context) {
	kind, err := plugin.ParseKind(c.Query("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.svc.ListPlugins(kind)})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var req analyzeRequest
	if !bind(c, &req) {
		return
	}
	res, err := s.svc.Analyze(c.Request.Context(), c.Param("name"), req.Path)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (s *Server) handleFix(c *gin.Context) {
	var req fixRequest
	if !bind(c, &req) {
		return
	}
	out, err := s.svc.ApplyFixes(c.Request.Context(), c.Param("name"), req.Path, req.RuleIDs, s.backup(req.Backup))
	if err != nil {
		var ioErr *fixer.IoError
		if errors.As(err, &ioErr) && out != nil {
			// The backup path must reach the caller so it can restore.
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "data": out})
			return
		}
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) handleAutoFix(c *gin.Context) {
	var req autoFixRequest
	if !bind(c, &req) {
		return
	}
	res, err := s.svc.AutoFix(c.Request.Context(), c.Param("name"), req.Path, s.backup(req.Backup), req.Restart)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (s *Server) handleRestart(c *gin.Context) {
	var req restartRequest
	if !bind(c, &req) {
		return
	}
	ok, msg := s.svc.RestartService(c.Request.Context(), c.Param("name"), req.Service)
	c.JSON(http.StatusOK, gin.H{"data": restartResponse{Service: req.Service, Success: ok, Message: msg}})
}

func (s *Server) handleAttack(c *gin.Context) {
	var req attackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.svc.ExecuteAttack(c.Request.Context(), c.Param("name"), req.Target, req.Options)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (s *Server) handleReload(c *gin.Context) {
	if err := s.svc.Manager().Reload(c.Param("name")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"plugin": c.Param("name"), "reloaded": true}})
}

func (s *Server) handleFindFixer(c *gin.Context) {
	name, err := s.svc.FindFixer(c.Request.Context(), c.Param("service"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"service": c.Param("service"), "plugin": name}})
}

func (s *Server) store(c *gin.Context) (history.Store, bool) {
	st := s.svc.History()
	if st == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "task history is disabled"})
		return nil, false
	}
	return st, true
}

func (s *Server) handleListHistory(c *gin.Context) {
	st, ok := s.store(c)
	if !ok {
		return
	}
	var f history.Filter
	var err error
	if f.Kind, err = history.ParseKind(c.Query("kind")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	f.Plugin = c.Query("plugin")
	if v := c.Query("min_severity"); v != "" {
		if f.MinSeverity, err = severity.Parse(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if v := c.Query("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit: " + v})
			return
		}
	}
	tasks, err := st.List(c.Request.Context(), f)
	if err != nil {
		s.fail(c, err)
		return
	}
	if tasks == nil {
		tasks = []*history.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"data": tasks})
}

func (s *Server) handleGetHistory(c *gin.Context) {
	st, ok := s.store(c)
	if !ok {
		return
	}
	task, err := st.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": task})
}

func (s *Server) handleDeleteHistory(c *gin.Context) {
	st, ok := s.store(c)
	if !ok {
		return
	}
	if err := st.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
