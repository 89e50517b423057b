// Package http provides the projmetad HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/projmeta/internal/logging"
	"github.com/fyrsmithlabs/projmeta/internal/project"
	"github.com/fyrsmithlabs/projmeta/internal/workspace"
)

// Server exposes the workspace over HTTP.
type Server struct {
	echo   *echo.Echo
	ws     *workspace.Workspace
	logger *logging.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates the API server for a workspace.
func NewServer(ws *workspace.Workspace, logger *logging.Logger, cfg *Config) (*Server, error) {
	if ws == nil {
		return nil, fmt.Errorf("workspace cannot be nil")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9610}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:   e,
		ws:     ws,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

// Use installs extra middleware, e.g. metrics.
func (s *Server) Use(mw ...echo.MiddlewareFunc) {
	s.echo.Use(mw...)
}

// Handler returns the underlying HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.GET("/projects", s.handleListProjects)
	v1.POST("/projects", s.handleOpenProject)
	v1.GET("/projects/:id", s.handleGetProject)
	v1.DELETE("/projects/:id", s.handleCloseProject)

	v1.GET("/projects/:id/properties", s.handleListProperties)
	v1.GET("/projects/:id/properties/:name", s.handleGetProperty)
	v1.PUT("/projects/:id/properties/:name", s.handleSetProperty)

	v1.GET("/projects/:id/resources", s.handleResourceProperties)
	v1.PUT("/projects/:id/resources", s.handleSetResourceProperties)

	v1.GET("/projects/:id/datasources", s.handleListDataSources)
	v1.POST("/projects/:id/datasources", s.handleCreateDataSource)
	v1.DELETE("/projects/:id/datasources/:dsid", s.handleDeleteDataSource)

	v1.GET("/projects/:id/tasks", s.handleListTasks)
	v1.POST("/projects/:id/tasks", s.handleCreateTask)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// ProjectResponse describes one open project.
type ProjectResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path,omitempty"`
	Format   string `json:"format"`
	InMemory bool   `json:"in_memory"`
}

func projectResponse(p *project.Project) (ProjectResponse, error) {
	id, err := p.ID()
	if err != nil {
		return ProjectResponse{}, err
	}
	return ProjectResponse{
		ID:       id,
		Name:     p.Name(),
		Path:     p.Path(),
		Format:   p.Format().String(),
		InMemory: p.IsInMemory(),
	}, nil
}

func (s *Server) handleListProjects(c echo.Context) error {
	projects := s.ws.Projects()
	out := make([]ProjectResponse, 0, len(projects))
	for _, p := range projects {
		resp, err := projectResponse(p)
		if err != nil {
			s.logger.Warn(c.Request().Context(), "failed to resolve project ID",
				zap.String("project.name", p.Name()), zap.Error(err))
			continue
		}
		out = append(out, resp)
	}
	return c.JSON(http.StatusOK, out)
}

// OpenProjectRequest is the request body for POST /api/v1/projects.
type OpenProjectRequest struct {
	Path     string `json:"path"`
	Name     string `json:"name"`
	InMemory bool   `json:"in_memory"`
}

func (s *Server) handleOpenProject(c echo.Context) error {
	var req OpenProjectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var (
		p   *project.Project
		err error
	)
	if req.InMemory {
		p, err = s.ws.CreateInMemoryProject(req.Name)
	} else {
		p, err = s.ws.OpenProject(req.Path)
	}
	if err != nil {
		switch {
		case errors.Is(err, workspace.ErrEmptyProjectPath),
			errors.Is(err, project.ErrEmptyProjectName):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, workspace.ErrProjectOpen):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	resp, err := projectResponse(p)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleGetProject(c echo.Context) error {
	p, err := s.project(c)
	if err != nil {
		return err
	}
	resp, err := projectResponse(p)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCloseProject(c echo.Context) error {
	p, err := s.project(c)
	if err != nil {
		return err
	}

	key := p.Path()
	if p.IsInMemory() {
		key = p.Name()
	}
	if err := s.ws.CloseProject(key); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListProperties(c echo.Context) error {
	p, err := s.project(c)
	if err != nil {
		return err
	}

	id, err := p.ID()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	props := p.ProjectProperties()
	props[project.PropProjectID] = id
	return c.JSON(http.StatusOK, props)
}

// PropertyResponse is a single scalar property value.
type PropertyResponse struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

func (s *Server) handleGetProperty(c echo.Context) error {
	p, err := s.project(c)
	if err != nil {
		return err
	}

	name := c.Param("name")
	value, ok := p.ProjectProperty(name)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "property not found")
	}
	return c.JSON(http.StatusOK, PropertyResponse{Name: name, Value: value})
}

// SetPropertyRequest is the request body for PUT .../properties/:name.
// A null value removes the property.
type SetPropertyRequest struct {
	Value any `json:"value"`
}

func (s *Server) handleSetProperty(c echo.Context) error {
	p, err := s.project(c)
	if err != nil {
		return err
	}

	var req SetPropertyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	name := c.Param("name")
	if name == project.PropProjectID {
		return echo.NewHTTPError(http.StatusBadRequest, "project ID cannot be modified")
	}

	p.SetProjectProperty(name, req.Value)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleResourceProperties(c echo.Context) error {
	p, err := s.project(c)
	if err != nil {
		return err
	}

	if path := c.QueryParam("path"); path != "" {
		props, ok := p.ResourceProperties(path)
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "no properties for resource")
		}
		return c.JSON(http.StatusOK, props)
	}
	return c.JSON(http.StatusOK, p.AllResourceProperties())
}

// SetResourcePropertiesRequest is the request body for PUT .../resources.
type SetResourcePropertiesRequest struct {
	Path       string         `json:"path"`
	Properties map[string]any `json:"properties"`
}

func (s *Server) handleSetResourceProperties(c echo.Context) error {
	p, err := s.project(c)
	if err != nil {
		return err
	}

	var req SetResourcePropertiesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Path == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "path field is required")
	}

	p.SetResourceProperties(req.Path, req.Properties)
	return c.NoContent(http.StatusNoContent)
}

// CreateDataSourceRequest is the request body for POST .../datasources.
type CreateDataSourceRequest struct {
	Name       string            `json:"name"`
	Driver     string            `json:"driver"`
	URL        string            `json:"url"`
	Properties map[string]string `json:"properties"`
}

func (s *Server) handleListDataSources(c echo.Context) error {
	p, err := s.project(c)
	if err != nil {
		return err
	}

	reg, err := p.DataSources()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, reg.List())
}

func (s *Server) handleCreateDataSource(c echo.Context) error {
	p, err := s.project(c)
	if err != nil {
		return err
	}

	var req CreateDataSourceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	reg, err := p.DataSources()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	ds, err := reg.Create(req.Name, req.Driver, req.URL, req.Properties)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, ds)
}

func (s *Server) handleDeleteDataSource(c echo.Context) error {
	p, err := s.project(c)
	if err != nil {
		return err
	}

	reg, err := p.DataSources()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := reg.Delete(c.Param("dsid")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// CreateTaskRequest is the request body for POST .../tasks.
type CreateTaskRequest struct {
	Type       string         `json:"type"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties"`
}

func (s *Server) handleListTasks(c echo.Context) error {
	p, err := s.project(c)
	if err != nil {
		return err
	}

	tm, err := p.Tasks()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, tm.List())
}

func (s *Server) handleCreateTask(c echo.Context) error {
	p, err := s.project(c)
	if err != nil {
		return err
	}

	var req CreateTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	tm, err := p.Tasks()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	t, err := tm.Create(req.Type, req.Label, req.Properties)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, t)
}

// project resolves the :id route parameter to an open project.
func (s *Server) project(c echo.Context) (*project.Project, error) {
	p, err := s.ws.ProjectByID(c.Param("id"))
	if err != nil {
		if errors.Is(err, workspace.ErrProjectNotFound) {
			return nil, echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return p, nil
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
