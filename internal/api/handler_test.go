package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"mangamirror/internal/auth"
	"mangamirror/internal/events"
	"mangamirror/internal/guard"
	"mangamirror/internal/metrics"
)

type stubEnqueuer struct {
	lastSource string
	lastItem   string
	err        error
}

func (s *stubEnqueuer) Enqueue(sourceName, itemID string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.lastSource = sourceName
	s.lastItem = itemID
	return "req-123", nil
}

func (s *stubEnqueuer) QueueDepths() map[string]int { return map[string]int{"stub": 0} }

func (s *stubEnqueuer) Sources() []string { return []string{"stub"} }

type stubReplicator struct{}

func (stubReplicator) FlushNow(context.Context) error { return nil }

func (stubReplicator) Pending() int { return 0 }

func newTestRouter(t *testing.T, orch Enqueuer) (*gin.Engine, auth.TokenService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens := auth.TokenService{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Duration: time.Hour,
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt failed: %v", err)
	}

	router := NewRouter(&Handler{
		Guard:   guard.New(),
		Metrics: metrics.NewCollector(),
		Orch:    orch,
		Replica: stubReplicator{},
		Hub:     events.NewHub(),
		Tokens:  tokens,
		AuthH:   auth.NewHandler(tokens, string(hash)),
	})
	return router, tokens
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, &stubEnqueuer{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestMetricsEndpointReturnsSnapshot(t *testing.T) {
	router, _ := newTestRouter(t, &stubEnqueuer{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var snap metrics.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("metrics response is not a snapshot: %v", err)
	}
}

func TestEnqueueRequiresToken(t *testing.T) {
	router, _ := newTestRouter(t, &stubEnqueuer{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sync/stub/item-1", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
}

func TestLoginThenEnqueue(t *testing.T) {
	orch := &stubEnqueuer{}
	router, _ := newTestRouter(t, orch)

	// login with the operator password
	body, _ := json.Marshal(map[string]string{"password": "hunter22"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("login failed with %d: %s", w.Code, w.Body.String())
	}
	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &loginResp); err != nil || loginResp.Token == "" {
		t.Fatalf("no token in login response: %v", err)
	}

	// enqueue with the bearer token
	req := httptest.NewRequest(http.MethodPost, "/sync/stub/item-1", nil)
	req.Header.Set("Authorization", "Bearer "+loginResp.Token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if orch.lastSource != "stub" || orch.lastItem != "item-1" {
		t.Fatalf("enqueue not routed, got %q/%q", orch.lastSource, orch.lastItem)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	router, _ := newTestRouter(t, &stubEnqueuer{})

	body, _ := json.Marshal(map[string]string{"password": "wrong"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body)))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
