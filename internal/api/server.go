// Package api implements the public request surface of spec §6.1: a gin
// REST server plus a gorilla/websocket streaming channel, grounded on
// codeready-toolchain-tarsy's pkg/api (gin handlers, JSON error bodies) and
// its WSHub (register/unregister/broadcast channels feeding a fan-out
// loop). Neither the memory subsystem, the kernel, the planner, nor the
// agent registry is imported concretely — this package only consumes the
// narrow interfaces below, the same seam-by-interface composition used
// throughout the rest of the module.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/cortexd/cortexd/internal/config"
	"github.com/cortexd/cortexd/internal/domain"
	"github.com/cortexd/cortexd/internal/memory"
	"github.com/cortexd/cortexd/internal/telemetry"
	"github.com/gin-gonic/gin"
)

// Kernel is POST /cognitions' and the cognition.cancel/submit streaming
// commands' door into internal/kernel.
type Kernel interface {
	Submit(ctx context.Context, agentID, source string, budget time.Duration) (domain.Cognition, error)
	Cancel(id string) bool
	Status(id string) (domain.CognitionStatus, bool)
	CancelAgent(agentID string) int
}

// Memory is the door into internal/memory's store/get/update/delete/
// consolidate/stats operations.
type Memory interface {
	Store(ctx context.Context, req domain.StoreRequest) (memory.StoreOutcome, error)
	Get(ctx context.Context, id string) (*domain.Record, error)
	Update(ctx context.Context, id string, patch domain.Content) error
	Delete(ctx context.Context, id string) error
	Consolidate(ctx context.Context, agentID string) (domain.ConsolidationSummary, error)
	Stats(ctx context.Context) (domain.Stats, error)
}

// Planner is GET /memories/search's door into internal/planner.
type Planner interface {
	Query(ctx context.Context, agentID, intent string, meta map[string]interface{}) ([]domain.Hit, error)
}

// Agents is the door into internal/agents's registration and messaging.
type Agents interface {
	RegisterAgent(profile domain.AgentProfile) error
	DeregisterAgent(agentID string) error
	Send(ctx context.Context, from, to string, payload interface{}) (string, error)
	Profile(agentID string) (domain.AgentRecord, bool)
	List() []domain.AgentRecord
}

// Server is the HTTP API server (spec §6.1).
type Server struct {
	kernel  Kernel
	memory  Memory
	planner Planner
	agents  Agents
	cfg     config.Config
	logger  telemetry.Logger
	hub     *Hub

	engine *gin.Engine
}

// NewServer builds the gin router and registers every route of §6.1.
func NewServer(kernel Kernel, memory Memory, planner Planner, agents Agents, cfg config.Config, logger telemetry.Logger) *Server {
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		kernel:  kernel,
		memory:  memory,
		planner: planner,
		agents:  agents,
		cfg:     cfg,
		logger:  logger.WithComponent("api"),
		hub:     NewHub(),
	}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.setupRoutes()
	go s.hub.Run()
	return s
}

// Handler returns the root http.Handler for use with an http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) setupRoutes() {
	s.engine.POST("/cognitions", s.handleSubmitCognition)
	s.engine.DELETE("/cognitions/:id", s.handleCancelCognition)
	s.engine.GET("/cognitions/:id", s.handleCognitionStatus)

	s.engine.POST("/memories/:kind", s.handleStoreMemory)
	s.engine.GET("/memories/search", s.handleSearchMemories)
	s.engine.GET("/memories/:id", s.handleGetMemory)
	s.engine.DELETE("/memories/:id", s.handleDeleteMemory)
	s.engine.PATCH("/memories/:id", s.handleUpdateMemory)
	s.engine.POST("/memories/consolidate", s.handleConsolidate)

	s.engine.GET("/agents", s.handleListAgents)
	s.engine.POST("/agents/:id", s.handleRegisterAgent)
	s.engine.DELETE("/agents/:id", s.handleDeregisterAgent)
	s.engine.POST("/agents/:id/messages", s.handleSendMessage)

	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/stream", s.handleStream)
}
