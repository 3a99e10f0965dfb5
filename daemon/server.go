package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"gantry"
)

// Watcher is the daemon's view of the event loop.
//
// Production: *watcher.Loop.
// Testing: a fake returning canned status and pass reports.
type Watcher interface {
	Status() gantry.Status
	Trigger(ctx context.Context) (gantry.PassReport, error)
}

// PassLister reads recorded rebuild passes.
//
// Production: *journal.Store.
// Testing: a fake returning a fixed history.
type PassLister interface {
	ListPasses(ctx context.Context, limit int) ([]gantry.PassReport, error)
}

// Server exposes the daemon's control API over a unix socket.
type Server struct {
	watcher Watcher
	journal PassLister
	version string
	router  *gin.Engine
	log     *slog.Logger
}

// NewServer builds the control API around a running watcher. journal may be
// nil when the pass journal could not be opened; the history endpoint then
// reports it as unavailable.
func NewServer(w Watcher, journal PassLister, version string, log *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		watcher: w,
		journal: journal,
		version: version,
		router:  router,
		log:     log,
	}

	v1 := router.Group("/v1")
	v1.GET("/status", s.getStatus)
	v1.GET("/routes", s.getRoutes)
	v1.GET("/passes", s.getPasses)
	v1.POST("/rebuild", s.postRebuild)

	return s
}

// ListenAndServe serves the control API on a unix socket until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, socket string) error {
	// Remove a stale socket from a previous run.
	if err := os.Remove(socket); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", socket)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socket, err)
	}
	defer os.Remove(socket)

	srv := &http.Server{Handler: s.router}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("control API shutdown", "error", err)
		}
	}()

	s.log.Info("control API listening", "socket", socket)
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve control API: %w", err)
	}
	<-done
	return nil
}

// Handler returns the underlying HTTP handler. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

type statusResponse struct {
	Version   string    `json:"version"`
	Network   string    `json:"network"`
	Watching  bool      `json:"watching"`
	Passes    int       `json:"passes"`
	Promoted  int       `json:"promoted"`
	Unchanged int       `json:"unchanged"`
	Failed    int       `json:"failed"`
	LastPass  *passView `json:"last_pass,omitempty"`
}

type passView struct {
	StartedAt  time.Time `json:"started_at"`
	Trigger    string    `json:"trigger"`
	Outcome    string    `json:"outcome"`
	Routes     int       `json:"routes"`
	Skipped    int       `json:"skipped"`
	DurationMS int64     `json:"duration_ms"`
	Detail     string    `json:"detail,omitempty"`
}

type routeView struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Port     uint16 `json:"port"`
	Path     string `json:"path,omitempty"`
	Host     string `json:"host,omitempty"`
	Upstream string `json:"upstream"`
}

func viewPass(report gantry.PassReport) passView {
	return passView{
		StartedAt:  report.StartedAt,
		Trigger:    report.Trigger,
		Outcome:    report.Outcome.String(),
		Routes:     report.Routes,
		Skipped:    report.Skipped,
		DurationMS: report.Duration.Milliseconds(),
		Detail:     report.Detail,
	}
}

func viewRoute(route gantry.Route) routeView {
	return routeView{
		Name:     route.Name,
		Address:  route.Address,
		Port:     route.Port,
		Path:     route.Path,
		Host:     route.Host,
		Upstream: route.Upstream(),
	}
}

func (s *Server) getStatus(c *gin.Context) {
	status := s.watcher.Status()

	resp := statusResponse{
		Version:   s.version,
		Network:   status.Network,
		Watching:  status.Watching,
		Passes:    status.Passes,
		Promoted:  status.Promoted,
		Unchanged: status.Unchanged,
		Failed:    status.Failed,
	}
	if status.LastPass != nil {
		last := viewPass(*status.LastPass)
		resp.LastPass = &last
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getRoutes(c *gin.Context) {
	status := s.watcher.Status()

	routes := make([]routeView, 0, len(status.Routes))
	for _, route := range status.Routes {
		routes = append(routes, viewRoute(route))
	}
	c.JSON(http.StatusOK, gin.H{"routes": routes})
}

func (s *Server) getPasses(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pass journal unavailable"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	reports, err := s.journal.ListPasses(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	passes := make([]passView, 0, len(reports))
	for _, report := range reports {
		passes = append(passes, viewPass(report))
	}
	c.JSON(http.StatusOK, gin.H{"passes": passes})
}

func (s *Server) postRebuild(c *gin.Context) {
	report, err := s.watcher.Trigger(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pass": viewPass(report)})
}
