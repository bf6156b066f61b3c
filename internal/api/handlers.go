package api

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cortexd/cortexd/internal/domain"
	"github.com/gin-gonic/gin"
)

// --- POST /cognitions ---

type submitCognitionRequest struct {
	AgentID   string `json:"agent_id" binding:"required"`
	ILSource  string `json:"il_source" binding:"required"`
	TimeoutMS *int   `json:"timeout_ms"`
}

func (s *Server) handleSubmitCognition(c *gin.Context) {
	var req submitCognitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", errInvalidJSON, err))
		return
	}

	var budget time.Duration
	if req.TimeoutMS != nil {
		if *req.TimeoutMS <= 0 {
			writeError(c, fmt.Errorf("%w: timeout_ms must be positive", errInvalidJSON))
			return
		}
		budget = time.Duration(*req.TimeoutMS) * time.Millisecond
	}

	rec, err := s.kernel.Submit(c.Request.Context(), req.AgentID, req.ILSource, budget)
	if err != nil {
		writeError(c, err)
		return
	}

	s.hub.Broadcast("cognition.progress", gin.H{
		"cognition_id": rec.CognitionID,
		"status":       rec.Status,
	})

	resp := gin.H{
		"cognition_id": rec.CognitionID,
		"status":       rec.Status,
	}
	switch rec.Status {
	case domain.CognitionSuccess:
		resp["result"] = rec.Result
	case domain.CognitionClarify:
		resp["clarification"] = rec.Result
	case domain.CognitionError, domain.CognitionCancelled:
		resp["error"] = gin.H{"kind": rec.ErrorKind, "message": rec.ErrorMessage}
	}
	c.JSON(200, resp)
}

// --- DELETE /cognitions/:id ---

func (s *Server) handleCancelCognition(c *gin.Context) {
	id := c.Param("id")
	if s.kernel.Cancel(id) {
		s.hub.Broadcast("cognition.progress", gin.H{"cognition_id": id, "status": "cancelled"})
		c.JSON(200, gin.H{"cancelled": true})
		return
	}
	c.JSON(404, gin.H{"cancelled": false})
}

// --- GET /cognitions/:id ---

func (s *Server) handleCognitionStatus(c *gin.Context) {
	id := c.Param("id")
	status, ok := s.kernel.Status(id)
	if !ok {
		c.JSON(404, gin.H{"error": gin.H{"kind": "NotFound", "message": "no in-flight cognition with that id"}})
		return
	}
	c.JSON(200, gin.H{"cognition_id": id, "status": status})
}

// --- POST /memories/:kind ---

type storeMemoryRequest struct {
	AgentID  string          `json:"agent_id"`
	Content  domain.Content  `json:"content" binding:"required"`
	Metadata domain.Metadata `json:"metadata"`
}

func (s *Server) handleStoreMemory(c *gin.Context) {
	kind := domain.Kind(c.Param("kind"))
	if !kind.Valid() {
		writeError(c, errInvalidJSON)
		return
	}
	var req storeMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, err)
		return
	}

	outcome, err := s.memory.Store(c.Request.Context(), domain.StoreRequest{
		Kind:     kind,
		Content:  req.Content,
		AgentID:  req.AgentID,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if outcome.Rejected != "" {
		c.JSON(200, gin.H{"rejected": string(outcome.Rejected)})
		return
	}
	s.hub.Broadcast("memory.stored", gin.H{"id": outcome.ID, "kind": string(kind)})
	c.JSON(200, gin.H{"id": outcome.ID})
}

// --- GET /memories/search ---

func (s *Server) handleSearchMemories(c *gin.Context) {
	query := c.Query("query")
	meta := map[string]interface{}{}
	if kind := c.Query("kind"); kind != "" {
		meta["kinds"] = kind
	}
	if k := c.Query("k"); k != "" {
		if v, err := strconv.Atoi(k); err == nil {
			meta["k"] = v
		}
	}
	if min := c.Query("min_similarity"); min != "" {
		if v, err := strconv.ParseFloat(min, 64); err == nil {
			meta["min_similarity"] = v
		}
	}
	if d := c.Query("domain"); d != "" {
		meta["domain"] = d
	}
	if mode := c.Query("mode"); mode != "" {
		meta["mode"] = mode
	}
	agentID := c.Query("agent_id")

	hits, err := s.planner.Query(c.Request.Context(), agentID, query, meta)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, gin.H{"hits": hits})
}

// --- GET /memories/:id ---

func (s *Server) handleGetMemory(c *gin.Context) {
	rec, err := s.memory.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, rec)
}

// --- DELETE /memories/:id ---

func (s *Server) handleDeleteMemory(c *gin.Context) {
	id := c.Param("id")
	if err := s.memory.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	s.hub.Broadcast("memory.evicted", gin.H{"id": id})
	c.JSON(200, gin.H{"deleted": true})
}

// --- PATCH /memories/:id ---

func (s *Server) handleUpdateMemory(c *gin.Context) {
	var patch domain.Content
	if err := c.ShouldBindJSON(&patch); err != nil {
		writeError(c, err)
		return
	}
	if err := s.memory.Update(c.Request.Context(), c.Param("id"), patch); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, gin.H{"updated": true})
}

// --- POST /memories/consolidate ---

type consolidateRequest struct {
	AgentID string `json:"agent_id"`
}

func (s *Server) handleConsolidate(c *gin.Context) {
	var req consolidateRequest
	_ = c.ShouldBindJSON(&req) // empty body is valid: agent_id is optional

	summary, err := s.memory.Consolidate(c.Request.Context(), req.AgentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, summary)
}

// --- GET /agents ---

func (s *Server) handleListAgents(c *gin.Context) {
	c.JSON(200, gin.H{"agents": s.agents.List()})
}

// --- POST /agents/:id ---

type registerAgentRequest struct {
	Capabilities []string `json:"capabilities"`
	InboxCap     int      `json:"inbox_cap"`
}

func (s *Server) handleRegisterAgent(c *gin.Context) {
	var req registerAgentRequest
	_ = c.ShouldBindJSON(&req)

	id := c.Param("id")
	err := s.agents.RegisterAgent(domain.AgentProfile{
		AgentID:      id,
		Capabilities: req.Capabilities,
		InboxCap:     req.InboxCap,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, gin.H{"registered": id})
}

// --- DELETE /agents/:id ---

func (s *Server) handleDeregisterAgent(c *gin.Context) {
	id := c.Param("id")
	s.kernel.CancelAgent(id)
	if err := s.agents.DeregisterAgent(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, gin.H{"deregistered": id})
}

// --- POST /agents/:id/messages ---

type sendMessageRequest struct {
	From    string      `json:"from" binding:"required"`
	Payload interface{} `json:"payload"`
}

func (s *Server) handleSendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, err)
		return
	}
	to := c.Param("id")
	msgID, err := s.agents.Send(c.Request.Context(), req.From, to, req.Payload)
	if err != nil {
		writeError(c, err)
		return
	}
	s.hub.Broadcast("message.delivered", gin.H{"message_id": msgID, "from": req.From, "to": to})
	c.JSON(200, gin.H{"message_id": msgID})
}

// --- GET /health ---

func (s *Server) handleHealth(c *gin.Context) {
	stats, err := s.memory.Stats(c.Request.Context())
	status := "ok"
	if err != nil {
		status = "degraded"
	}
	c.JSON(200, gin.H{
		"status": status,
		"pool": gin.H{
			"driver":   s.cfg.Persistence.Driver,
			"pool_min": s.cfg.Persistence.PoolMin,
			"pool_max": s.cfg.Persistence.PoolMax,
		},
		"stats": stats,
	})
}
