package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatline/gateway/internal/events"
	"github.com/chatline/gateway/internal/hub"
	"github.com/chatline/gateway/internal/metrics"
)

type stubHandle string

func (h stubHandle) ID() string             { return string(h) }
func (h stubHandle) Push(data []byte) error { return nil }

func newTestServer(t *testing.T, buffer int) (*Server, *hub.Registry, *events.Bus) {
	t.Helper()
	registry := hub.NewRegistry()
	bus := events.NewBus(buffer, nil)
	return NewServer("gw-test", registry, bus.From("http"), metrics.NewNop(), zap.NewNop()), registry, bus
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, registry, _ := newTestServer(t, 1)
	registry.Register(1, stubHandle("c1"))

	rec := serve(s, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "gw-test", body["gateway_id"])
	assert.Equal(t, float64(1), body["connections"])
}

func TestSessions(t *testing.T) {
	s, registry, _ := newTestServer(t, 1)
	registry.Register(2, stubHandle("c2"))
	registry.Register(1, stubHandle("c1"))

	rec := serve(s, http.MethodGet, "/internal/sessions", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Sessions []Session `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []Session{{UserID: 1, ConnectionID: "c1"}, {UserID: 2, ConnectionID: "c2"}}, body.Sessions)
}

func TestPublish(t *testing.T) {
	s, _, bus := newTestServer(t, 1)
	event := `{"id":5,"content":"hi","createdAt":"2024-01-01T00:00:00Z","author":{"id":1},"conversation":{"id":3,"creator":{"id":1},"recipient":{"id":2}}}`

	rec := serve(s, http.MethodPost, "/internal/messages", event)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	evt := <-bus.Events()
	assert.Equal(t, int64(5), evt.ID)
	assert.Equal(t, int64(2), evt.OtherParty())

	// Missing participants
	rec = serve(s, http.MethodPost, "/internal/messages", `{"id":6,"author":{"id":1}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(s, http.MethodPost, "/internal/messages", `{"id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Queue is full
	require.Equal(t, http.StatusAccepted, serve(s, http.MethodPost, "/internal/messages", event).Code)
	rec = serve(s, http.MethodPost, "/internal/messages", event)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, 1)

	rec := serve(s, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chat_gateway_sessions")
}
