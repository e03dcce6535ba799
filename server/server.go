// Package server exposes the pipeline and retrieval engine over HTTP.
// Chat and analysis consumers are external: they call the search and
// context endpoints and own their prompt construction and LLM calls.
package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"videoIndex/config"
	"videoIndex/core"
	"videoIndex/pipeline"
	"videoIndex/retrieval"
	"videoIndex/store"
)

type Server struct {
	cfg    *config.Config
	repo   store.SourceRepository
	runner *pipeline.Runner
	engine *retrieval.Engine
	idx    store.VectorIndex
	log    *slog.Logger
}

func New(cfg *config.Config, repo store.SourceRepository, runner *pipeline.Runner, engine *retrieval.Engine, idx store.VectorIndex, log *slog.Logger) *Server {
	return &Server{cfg: cfg, repo: repo, runner: runner, engine: engine, idx: idx, log: log}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	r.GET("/healthz", s.health)

	api := r.Group("/api")
	{
		api.POST("/sources", s.createSource)
		api.GET("/sources", s.listSources)
		api.GET("/sources/:id", s.getSource)
		api.DELETE("/sources/:id", s.deleteSource)
		api.POST("/sources/:id/analyze", s.analyzeSource)
		api.POST("/sources/:id/reprocess", s.reprocessSource)
		api.GET("/runs", s.listRuns)
		api.POST("/search", s.search)
		api.POST("/context", s.contextBridge)
	}
	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// createSource registers an uploaded video. The video arrives either as
// a multipart file field "video" or as a JSON body naming a server-side
// path; both land in the per-source data directory. The source starts
// in Imported; with auto_analyze the pipeline is triggered right away.
func (s *Server) createSource(c *gin.Context) {
	id := uuid.NewString()
	sourceDir := filepath.Join(s.cfg.DataRoot, id)
	if err := os.MkdirAll(sourceDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var title, inputPath string
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		file, err := c.FormFile("video")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field 'video'"})
			return
		}
		inputPath = filepath.Join(sourceDir, filepath.Base(file.Filename))
		if err := c.SaveUploadedFile(file, inputPath); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		title = strings.TrimSuffix(filepath.Base(file.Filename), filepath.Ext(file.Filename))
		if t := c.PostForm("title"); t != "" {
			title = t
		}
	} else {
		var req core.CreateSourceRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.VideoPath == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "video_path required"})
			return
		}
		dst := filepath.Join(sourceDir, "input"+filepath.Ext(req.VideoPath))
		if err := copyFile(req.VideoPath, dst); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		inputPath = dst
		title = req.Title
		if title == "" {
			title = strings.TrimSuffix(filepath.Base(req.VideoPath), filepath.Ext(req.VideoPath))
		}
	}

	src := &core.Source{
		ID:       id,
		Title:    title,
		FilePath: inputPath,
		Status:   core.StatusImported,
	}
	if err := s.repo.Create(c.Request.Context(), src); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if s.cfg.AutoAnalyze {
		if updated, err := s.runner.Trigger(c.Request.Context(), id); err == nil {
			src = updated
		} else {
			s.log.Warn("auto analyze failed", "source_id", id, "error", err)
		}
	}
	c.JSON(http.StatusCreated, core.SourceResponse{Source: src})
}

func (s *Server) listSources(c *gin.Context) {
	sources, err := s.repo.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sources": sources})
}

func (s *Server) getSource(c *gin.Context) {
	src, err := s.repo.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.sourceError(c, err)
		return
	}
	c.JSON(http.StatusOK, core.SourceResponse{Source: src})
}

// deleteSource removes the source row and every chunk indexed for it.
func (s *Server) deleteSource(c *gin.Context) {
	id := c.Param("id")
	if err := s.idx.DeleteBySource(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.repo.Delete(c.Request.Context(), id); err != nil {
		s.sourceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (s *Server) analyzeSource(c *gin.Context) {
	src, err := s.runner.Trigger(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.triggerError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, core.SourceResponse{Source: src})
}

func (s *Server) reprocessSource(c *gin.Context) {
	src, err := s.runner.Reprocess(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.triggerError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, core.SourceResponse{Source: src})
}

func (s *Server) listRuns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"runs": s.runner.Running()})
}

func (s *Server) search(c *gin.Context) {
	var req core.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query required"})
		return
	}
	hits, fallback, err := s.engine.Search(c.Request.Context(), req.Query, req.SourceIDs, req.TopK)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if hits == nil {
		hits = []core.Hit{}
	}
	c.JSON(http.StatusOK, core.SearchResponse{Query: req.Query, Hits: hits, Fallback: fallback})
}

func (s *Server) contextBridge(c *gin.Context) {
	var req core.ContextBridgeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SourceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_id required"})
		return
	}
	resp, err := s.engine.ContextBridge(c.Request.Context(), req.SourceID, req.TargetTimestamp, req.PreviousTimestamp)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) sourceError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrSourceNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (s *Server) triggerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrSourceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrBadTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
