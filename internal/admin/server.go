// Package admin exposes a small gin + websocket inspection surface over
// the running registry, event history, and orchestrator, grounded on
// the teacher's internal/orchestrator/api (gin routing, status/queue
// endpoints) and internal/orchestrator/streaming (websocket hub) pair,
// collapsed into a single read-mostly surface since agentcore has no
// separate task-execution-control API to mirror.
package admin

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/agent"
	"github.com/kandev/agentcore/internal/eventbus"
	"github.com/kandev/agentcore/internal/orchestrator"
	"github.com/kandev/agentcore/internal/platform/logger"
)

// Config controls the admin HTTP listener.
type Config struct {
	Host string
	Port int
}

// Server is the optional inspection HTTP surface: agent health, event
// history, and a live websocket mirror of the event stream.
type Server struct {
	http     *http.Server
	registry *agent.Registry
	events   *eventbus.Bus
	orch     *orchestrator.Orchestrator
	log      *logger.Logger
	upgrader websocket.Upgrader
}

// NewServer builds a Server; call Run to start listening.
func NewServer(cfg Config, registry *agent.Registry, events *eventbus.Bus, orch *orchestrator.Orchestrator, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	s := &Server{
		registry: registry,
		events:   events,
		orch:     orch,
		log:      log.With(zap.String("component", "admin")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestLogger(s.log), recovery(s.log))

	router.GET("/health", s.handleHealth)
	router.GET("/agents", s.handleAgents)
	router.GET("/agents/:type", s.handleAgentsByType)
	router.GET("/events", s.handleEvents)
	router.GET("/ws", s.handleWebSocket)

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run blocks serving HTTP until Shutdown is called.
func (s *Server) Run() error {
	s.log.Info("admin server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleAgents(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.HealthAll())
}

func (s *Server) handleAgentsByType(c *gin.Context) {
	t := agent.Type(c.Param("type"))
	c.JSON(http.StatusOK, s.registry.HealthByType(t))
}

func (s *Server) handleEvents(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	c.JSON(http.StatusOK, s.events.GetHistory(limit))
}

// handleWebSocket upgrades the connection and streams every newly
// published event as JSON until the client disconnects.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	for ev := range ch {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}
