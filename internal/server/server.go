// Package server exposes the cohort core over HTTP: the /acp JSON-RPC
// endpoint with its SSE stream, a WebSocket feed of semantic blocks, and the
// background-task REST surface.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cohort-dev/cohort/internal/common/config"
	"github.com/cohort-dev/cohort/internal/common/logger"
	"github.com/cohort-dev/cohort/internal/orchestrator"
	"github.com/cohort-dev/cohort/internal/persistence"
	"github.com/cohort-dev/cohort/internal/queue"
	"github.com/cohort-dev/cohort/internal/session"
	"github.com/cohort-dev/cohort/internal/skills"
	"github.com/cohort-dev/cohort/internal/supervisor"
	"github.com/cohort-dev/cohort/internal/sysprompt"
)

// Version is reported in the initialize handshake.
const Version = "0.1.0"

// Server is the HTTP front of the cohort core.
type Server struct {
	cfg         config.ServerConfig
	store       *session.Store
	sup         *supervisor.Supervisor
	orch        *orchestrator.Orchestrator
	tasks       *queue.Service
	skills      *skills.Registry
	specialists *sysprompt.Registry
	persist     persistence.Store
	log         *logger.Logger
	router      *gin.Engine

	upgrader    websocket.Upgrader
	initialized atomic.Bool
	httpSrv     *http.Server
}

// New wires the server and its routes.
func New(cfg config.ServerConfig, store *session.Store, sup *supervisor.Supervisor, orch *orchestrator.Orchestrator, tasks *queue.Service, skillReg *skills.Registry, specialists *sysprompt.Registry, persist persistence.Store, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	if log == nil {
		log = logger.Default()
	}

	s := &Server{
		cfg:         cfg,
		store:       store,
		sup:         sup,
		orch:        orch,
		tasks:       tasks,
		skills:      skillReg,
		specialists: specialists,
		persist:     persist,
		log:         log.WithFields(zap.String("component", "server")),
		router:      gin.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

// Router returns the HTTP router, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)

	// JSON-RPC on POST, SSE stream on GET, same path.
	s.router.POST("/acp", s.handleRPC)
	s.router.GET("/acp", s.handleSSE)

	s.router.GET("/ws", s.handleWS)

	s.router.POST("/background-tasks", s.handleTaskCreate)
	s.router.GET("/background-tasks", s.handleTaskList)
	s.router.GET("/background-tasks/:id", s.handleTaskGet)
	s.router.DELETE("/background-tasks/:id", s.handleTaskDelete)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Start serves until the context is cancelled. Streaming endpoints hold
// connections open, so only the header read gets a global timeout.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadTimeoutDuration(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	s.log.Info("server listening", zap.String("addr", s.httpSrv.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}
