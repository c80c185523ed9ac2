package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/prospect-crawler/internal/config"
	"github.com/JakeFAU/prospect-crawler/internal/orchestrator"
	"github.com/JakeFAU/prospect-crawler/internal/prospect"
	"github.com/JakeFAU/prospect-crawler/internal/storage/memory"
)

func TestServer_Analyze(t *testing.T) {
	t.Parallel()

	an := &stubAnalyzer{}
	server := newTestServer(Deps{Analyzer: an})

	rec := do(server, http.MethodPost, "/v1/analyze", `{"url":"acme.example"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var a prospect.SiteAssessment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	assert.Equal(t, "acme.example", a.URL)
	assert.Equal(t, 64, a.OverallScore)
}

func TestServer_AnalyzeValidation(t *testing.T) {
	t.Parallel()

	server := newTestServer(Deps{Analyzer: &stubAnalyzer{}})
	require.Equal(t, http.StatusBadRequest, do(server, http.MethodPost, "/v1/analyze", "{invalid").Code)

	rec := do(server, http.MethodPost, "/v1/analyze", `{"url":"  "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "url required")

	unavailable := newTestServer(Deps{})
	require.Equal(t, http.StatusServiceUnavailable, do(unavailable, http.MethodPost, "/v1/analyze", `{"url":"a.example"}`).Code)
}

func TestServer_AnalyzeEngineError(t *testing.T) {
	t.Parallel()

	server := newTestServer(Deps{Analyzer: &stubAnalyzer{err: errors.New("browser gone")}})
	rec := do(server, http.MethodPost, "/v1/analyze", `{"url":"acme.example"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Body.String(), "browser gone")
}

func TestServer_CycleWait(t *testing.T) {
	t.Parallel()

	cycles := &fakeCycles{stats: orchestrator.CycleStats{Selected: 2, Processed: 2, LeadsFound: 7}}
	server := newTestServer(Deps{Cycles: cycles})

	rec := do(server, http.MethodPost, "/v1/cycles", `{"max_zones":4,"wait":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats orchestrator.CycleStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 7, stats.LeadsFound)
	assert.Equal(t, []int{4}, cycles.maxZones())

	rec = do(server, http.MethodGet, "/v1/cycles/last", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"leads_found":7`)
}

func TestServer_CycleAsyncUsesConfiguredMax(t *testing.T) {
	t.Parallel()

	cycles := &fakeCycles{}
	server := newTestServer(Deps{Cycles: cycles})

	rec := do(server, http.MethodPost, "/v1/cycles", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool {
		return len(cycles.maxZones()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{6}, cycles.maxZones())
}

func TestServer_CycleConflictsAndValidation(t *testing.T) {
	t.Parallel()

	busy := newTestServer(Deps{Cycles: &fakeCycles{running: true}})
	require.Equal(t, http.StatusConflict, do(busy, http.MethodPost, "/v1/cycles", `{"wait":true}`).Code)

	raced := newTestServer(Deps{Cycles: &fakeCycles{err: orchestrator.ErrCycleRunning}})
	require.Equal(t, http.StatusConflict, do(raced, http.MethodPost, "/v1/cycles", `{"wait":true}`).Code)

	failing := newTestServer(Deps{Cycles: &fakeCycles{err: errors.New("db down")}})
	require.Equal(t, http.StatusInternalServerError, do(failing, http.MethodPost, "/v1/cycles", `{"wait":true}`).Code)

	idle := newTestServer(Deps{Cycles: &fakeCycles{}})
	require.Equal(t, http.StatusBadRequest, do(idle, http.MethodPost, "/v1/cycles", `{"max_zones":0}`).Code)
	require.Equal(t, http.StatusNotFound, do(idle, http.MethodGet, "/v1/cycles/last", "").Code)
}

func TestServer_GetLead(t *testing.T) {
	t.Parallel()

	leads := memory.NewLeadStore()
	_, err := leads.Insert(context.Background(), prospect.Lead{ID: "lead-1", UniqueKey: "abc123", BusinessName: "Acme Plumbing"})
	require.NoError(t, err)
	server := newTestServer(Deps{Leads: leads})

	rec := do(server, http.MethodGet, "/v1/leads/abc123", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Acme Plumbing")

	require.Equal(t, http.StatusNotFound, do(server, http.MethodGet, "/v1/leads/missing", "").Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	server := NewServer(Deps{Analyzer: &stubAnalyzer{}}, cfg, zap.NewNop())

	require.Equal(t, http.StatusOK, do(server, http.MethodGet, "/healthz", "").Code, "probes stay open")
	require.Equal(t, http.StatusForbidden, do(server, http.MethodPost, "/v1/analyze", `{"url":"a.example"}`).Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", bytes.NewBufferString(`{"url":"a.example"}`))
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, do(server, http.MethodPost, "/v1/analyze?api_key=secret", `{"url":"a.example"}`).Code)
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	require.Equal(t, http.StatusServiceUnavailable, do(newTestServer(Deps{}), http.MethodGet, "/readyz", "").Code)
	ready := newTestServer(Deps{Analyzer: &stubAnalyzer{}, Zones: memory.NewZoneStore()})
	require.Equal(t, http.StatusOK, do(ready, http.MethodGet, "/readyz", "").Code)

	rec := do(ready, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := do(newTestServer(Deps{}), http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	newTestServer(Deps{}).Handler().ServeHTTP(rec, req)
	require.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type stubAnalyzer struct {
	err error
}

func (s *stubAnalyzer) Analyze(_ context.Context, url string) (prospect.SiteAssessment, error) {
	if s.err != nil {
		return prospect.SiteAssessment{}, s.err
	}
	return prospect.SiteAssessment{URL: url, IsAccessible: true, OverallScore: 64}, nil
}

type fakeCycles struct {
	stats   orchestrator.CycleStats
	err     error
	running bool

	mu    sync.Mutex
	calls []int
	last  *orchestrator.CycleStats
}

func (f *fakeCycles) RunCycle(_ context.Context, maxZones int) (orchestrator.CycleStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, maxZones)
	if f.err != nil {
		return orchestrator.CycleStats{}, f.err
	}
	stats := f.stats
	f.last = &stats
	return stats, nil
}

func (f *fakeCycles) Last() (orchestrator.CycleStats, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return orchestrator.CycleStats{}, false
	}
	return *f.last, true
}

func (f *fakeCycles) Running() bool {
	return f.running
}

func (f *fakeCycles) maxZones() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client == nil {
		return nil
	}
	return h.client.Close()
}

func testConfig() config.Config {
	return config.Config{
		Server:       config.ServerConfig{RequestTimeoutSeconds: 5},
		Orchestrator: config.OrchestratorConfig{MaxZones: 6},
	}
}

func newTestServer(deps Deps) *Server {
	return NewServer(deps, testConfig(), zap.NewNop())
}

func do(server *Server, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, reader))
	return rec
}
