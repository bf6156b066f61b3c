package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cortexd/cortexd/internal/config"
	"github.com/cortexd/cortexd/internal/coreerr"
	"github.com/cortexd/cortexd/internal/domain"
	"github.com/cortexd/cortexd/internal/memory"
	"github.com/cortexd/cortexd/internal/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKernel struct {
	submitResult domain.Cognition
	submitErr    error
	cancelled    []string
	cancelAgent  string
}

func (k *fakeKernel) Submit(ctx context.Context, agentID, source string, budget time.Duration) (domain.Cognition, error) {
	return k.submitResult, k.submitErr
}
func (k *fakeKernel) Cancel(id string) bool {
	k.cancelled = append(k.cancelled, id)
	return true
}
func (k *fakeKernel) Status(id string) (domain.CognitionStatus, bool) {
	return domain.CognitionRunning, id == "known"
}
func (k *fakeKernel) CancelAgent(agentID string) int {
	k.cancelAgent = agentID
	return 1
}

type fakeMemory struct {
	storeOutcome memory.StoreOutcome
	storeErr     error
	getRecord    *domain.Record
	getErr       error
	deleteErr    error
}

func (m *fakeMemory) Store(ctx context.Context, req domain.StoreRequest) (memory.StoreOutcome, error) {
	return m.storeOutcome, m.storeErr
}
func (m *fakeMemory) Get(ctx context.Context, id string) (*domain.Record, error) {
	return m.getRecord, m.getErr
}
func (m *fakeMemory) Update(ctx context.Context, id string, patch domain.Content) error { return nil }
func (m *fakeMemory) Delete(ctx context.Context, id string) error                       { return m.deleteErr }
func (m *fakeMemory) Consolidate(ctx context.Context, agentID string) (domain.ConsolidationSummary, error) {
	return domain.ConsolidationSummary{Scanned: 3}, nil
}
func (m *fakeMemory) Stats(ctx context.Context) (domain.Stats, error) {
	return domain.Stats{Total: 5}, nil
}

type fakePlanner struct {
	hits []domain.Hit
	err  error
}

func (p *fakePlanner) Query(ctx context.Context, agentID, intent string, meta map[string]interface{}) ([]domain.Hit, error) {
	return p.hits, p.err
}

type fakeAgents struct {
	registerErr error
	sendID      string
	sendErr     error
	list        []domain.AgentRecord
}

func (a *fakeAgents) RegisterAgent(profile domain.AgentProfile) error { return a.registerErr }
func (a *fakeAgents) DeregisterAgent(agentID string) error            { return nil }
func (a *fakeAgents) Send(ctx context.Context, from, to string, payload interface{}) (string, error) {
	return a.sendID, a.sendErr
}
func (a *fakeAgents) Profile(agentID string) (domain.AgentRecord, bool) {
	return domain.AgentRecord{}, false
}
func (a *fakeAgents) List() []domain.AgentRecord { return a.list }

func newTestServer(k *fakeKernel, m *fakeMemory, p *fakePlanner, a *fakeAgents) *Server {
	gin.SetMode(gin.TestMode)
	return NewServer(k, m, p, a, config.Config{}, telemetry.NoOpLogger{})
}

func doRequest(s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func TestSubmitCognitionReturnsResult(t *testing.T) {
	k := &fakeKernel{submitResult: domain.Cognition{CognitionID: "c1", Status: domain.CognitionSuccess, Result: "42"}}
	s := newTestServer(k, &fakeMemory{}, &fakePlanner{}, &fakeAgents{})

	w := doRequest(s, http.MethodPost, "/cognitions", map[string]interface{}{
		"agent_id": "a1", "il_source": "(QUERY {text=\"hi\"})",
	})
	require.Equal(t, 200, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "c1", resp["cognition_id"])
	assert.Equal(t, "success", resp["status"])
}

func TestSubmitCognitionRejectsMissingFields(t *testing.T) {
	s := newTestServer(&fakeKernel{}, &fakeMemory{}, &fakePlanner{}, &fakeAgents{})
	w := doRequest(s, http.MethodPost, "/cognitions", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStoreMemoryRejectsUnknownKind(t *testing.T) {
	s := newTestServer(&fakeKernel{}, &fakeMemory{}, &fakePlanner{}, &fakeAgents{})
	w := doRequest(s, http.MethodPost, "/memories/bogus", map[string]interface{}{"content": map[string]interface{}{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStoreMemoryReturnsID(t *testing.T) {
	m := &fakeMemory{storeOutcome: memory.StoreOutcome{ID: "m1"}}
	s := newTestServer(&fakeKernel{}, m, &fakePlanner{}, &fakeAgents{})
	w := doRequest(s, http.MethodPost, "/memories/episodic", map[string]interface{}{
		"content": map[string]interface{}{"session_id": "s1", "context": "c"},
	})
	require.Equal(t, 200, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "m1", resp["id"])
}

func TestStoreMemoryReportsRejection(t *testing.T) {
	m := &fakeMemory{storeOutcome: memory.StoreOutcome{Rejected: domain.RejectTooSimilar}}
	s := newTestServer(&fakeKernel{}, m, &fakePlanner{}, &fakeAgents{})
	w := doRequest(s, http.MethodPost, "/memories/episodic", map[string]interface{}{
		"content": map[string]interface{}{"session_id": "s1", "context": "c"},
	})
	require.Equal(t, 200, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "too_similar", resp["rejected"])
}

func TestSearchMemoriesPassesQueryParams(t *testing.T) {
	p := &fakePlanner{hits: []domain.Hit{{Record: &domain.Record{ID: "r1"}, Score: 0.9}}}
	s := newTestServer(&fakeKernel{}, &fakeMemory{}, p, &fakeAgents{})
	w := doRequest(s, http.MethodGet, "/memories/search?query=hello&k=5", nil)
	require.Equal(t, 200, w.Code)
}

func TestGetMemoryUnknownRecordMapsTo404(t *testing.T) {
	m := &fakeMemory{getErr: coreerr.New("memory.Get", "NotFound", coreerr.ErrNotFound)}
	s := newTestServer(&fakeKernel{}, m, &fakePlanner{}, &fakeAgents{})
	w := doRequest(s, http.MethodGet, "/memories/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeregisterAgentCancelsInFlightCognitionsFirst(t *testing.T) {
	k := &fakeKernel{}
	a := &fakeAgents{}
	s := newTestServer(k, &fakeMemory{}, &fakePlanner{}, a)
	w := doRequest(s, http.MethodDelete, "/agents/a1", nil)
	require.Equal(t, 200, w.Code)
	assert.Equal(t, "a1", k.cancelAgent)
}

func TestSendMessageReturnsMessageID(t *testing.T) {
	a := &fakeAgents{sendID: "msg-1"}
	s := newTestServer(&fakeKernel{}, &fakeMemory{}, &fakePlanner{}, a)
	w := doRequest(s, http.MethodPost, "/agents/a1/messages", map[string]interface{}{"from": "a2", "payload": "hi"})
	require.Equal(t, 200, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "msg-1", resp["message_id"])
}

func TestHealthReportsOK(t *testing.T) {
	s := newTestServer(&fakeKernel{}, &fakeMemory{}, &fakePlanner{}, &fakeAgents{})
	w := doRequest(s, http.MethodGet, "/health", nil)
	require.Equal(t, 200, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}
