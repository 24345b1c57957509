// Package api exposes the controller's HTTP surface: the GitLab webhook
// endpoint, a liveness endpoint, and the operator-facing job introspection
// endpoints.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/fluffybot/internal/batch"
	"github.com/fluffybot/internal/webhook"
	"github.com/fluffybot/internal/worker"
)

// IssueResponder handles issue comments asynchronously.
type IssueResponder interface {
	HandleComment(ctx context.Context, ev *webhook.IssueNoteEvent)
}

// MRResponder handles MR line comments asynchronously.
type MRResponder interface {
	HandleLineComment(ctx context.Context, ev *webhook.MergeRequestNoteEvent)
}

// MergeRouter handles merged-MR events asynchronously.
type MergeRouter interface {
	HandleMergeEvent(ctx context.Context, ev *webhook.MergeRequestEvent)
}

// Dispatcher launches worker jobs for validated issue events.
type Dispatcher interface {
	Dispatch(ctx context.Context, req worker.Request) (string, error)
}

// StatusReporter serves the job introspection endpoints.
type StatusReporter interface {
	List(ctx context.Context) ([]worker.JobStatusView, error)
	Get(ctx context.Context, name string) (*worker.JobStatusView, error)
	Logs(ctx context.Context, name string) (string, error)
}

// Deps bundles the collaborators the server routes events to.
type Deps struct {
	BotUsername    string
	Pool           *batch.Pool
	IssueResponder IssueResponder
	MRResponder    MRResponder
	MergeRouter    MergeRouter
	Dispatcher     Dispatcher
	StatusReporter StatusReporter
}

// Server represents the API server
type Server struct {
	echo *echo.Echo
	port int
	deps Deps
}

// NewServer creates a new API server
func NewServer(port int, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	server := &Server{
		echo: e,
		port: port,
		deps: deps,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.POST("/webhook/gitlab", s.GitLabWebhookHandler)
	s.echo.GET("/webhook/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	s.echo.GET("/jobs", s.listJobs)
	s.echo.GET("/jobs/:name", s.getJob)
	s.echo.GET("/jobs/:name/logs", s.getJobLogs)
}

// Start begins the API server and blocks until interrupted, then drains the
// worker pool before returning.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.deps.Pool != nil {
		s.deps.Pool.Shutdown(ctx)
	}
	return s.echo.Shutdown(ctx)
}
