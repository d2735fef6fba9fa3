// Package api serves resolution runs over HTTP.
package api

import (
	"bytes"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/quantcfg/internal/graph"
	"github.com/samcharles93/quantcfg/internal/hwconfig"
	"github.com/samcharles93/quantcfg/internal/logger"
	"github.com/samcharles93/quantcfg/internal/metrics"
	"github.com/samcharles93/quantcfg/internal/pipeline"
	"github.com/samcharles93/quantcfg/internal/toolconfig"
)

type Server struct {
	reports *ReportStore
	metrics *metrics.Metrics
	log     logger.Logger
}

func NewServer(reports *ReportStore, m *metrics.Metrics, log logger.Logger) *Server {
	if reports == nil {
		reports = NewReportStore(0)
	}
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		reports: reports,
		metrics: m,
		log:     log.WithGroup("api"),
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/resolve", s.handleResolve)
	e.GET("/v1/reports/:id", s.handleGetReport)
	e.DELETE("/v1/reports/:id", s.handleDeleteReport)
	e.GET("/metrics", s.handleMetrics)
}

func (s *Server) handleResolve(c *echo.Context) error {
	req, err := decodeJSON[ResolveRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	opts, err := s.options(req)
	if err != nil {
		return writeRunError(c, err)
	}
	report, err := pipeline.Run(c.Request().Context(), opts)
	if err != nil {
		s.log.Warn("resolve failed", "error", err)
		return writeRunError(c, err)
	}
	if req.Store == nil || *req.Store {
		s.reports.Put(report)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) options(req ResolveRequest) (pipeline.Options, error) {
	if req.Graph == nil {
		return pipeline.Options{}, newInvalidRequest("graph is required")
	}
	if missing(req.Hardware) {
		return pipeline.Options{}, newInvalidRequest("hardware is required")
	}
	g, err := graph.FromDocument(*req.Graph)
	if err != nil {
		return pipeline.Options{}, newInvalidRequest(err.Error())
	}
	cat, err := hwconfig.Parse(req.Hardware)
	if err != nil {
		return pipeline.Options{}, err
	}
	cfg, err := toolConfig(req.Config)
	if err != nil {
		return pipeline.Options{}, err
	}
	opts := pipeline.Options{
		Graph:          g,
		Catalog:        cat,
		Config:         cfg,
		SkipStatistics: req.Statistics != nil && !*req.Statistics,
		IncludeGraph:   req.IncludeGraph,
		Logger:         s.log,
		Metrics:        s.metrics,
	}
	if req.Preset != "" {
		p, err := toolconfig.ParsePreset(req.Preset)
		if err != nil {
			return pipeline.Options{}, err
		}
		opts.Preset = p
	}
	return opts, nil
}

// toolConfig accepts the configuration either as an object or as a string
// holding a YAML document.
func toolConfig(raw json.RawMessage) (toolconfig.Config, error) {
	if missing(raw) {
		return toolconfig.Config{}, nil
	}
	raw = bytes.TrimSpace(raw)
	if raw[0] == '"' {
		var doc string
		if err := json.Unmarshal(raw, &doc); err != nil {
			return toolconfig.Config{}, newInvalidRequest("config: " + err.Error())
		}
		return toolconfig.Parse([]byte(doc))
	}
	return toolconfig.Parse(raw)
}

func missing(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func (s *Server) handleGetReport(c *echo.Context) error {
	id := c.Param("id")
	r, ok := s.reports.Get(id)
	if !ok {
		return writeNotFound(c, "report not found")
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) handleDeleteReport(c *echo.Context) error {
	id := c.Param("id")
	if !s.reports.Delete(id) {
		return writeNotFound(c, "report not found")
	}
	return c.JSON(http.StatusOK, DeleteResponse{ID: id, Object: "report", Deleted: true})
}

func (s *Server) handleMetrics(c *echo.Context) error {
	s.metrics.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}
