package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/flowbot/internal/config"
	"github.com/soyeahso/flowbot/internal/domain"
	"github.com/soyeahso/flowbot/internal/logging"
)

func do(t *testing.T, method, url, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestConfigCreateAndGet(t *testing.T) {
	h := newHarness(t, config.GatewayConfig{})

	status, body := do(t, "GET", h.ts.URL+"/api/config", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.JSONEq(t, `{"error":"No configuration found"}`, string(body))

	status, body = do(t, "POST", h.ts.URL+"/api/config", weatherFlow)
	require.Equal(t, http.StatusCreated, status, string(body))
	var created ConfigCreated
	require.NoError(t, json.Unmarshal(body, &created))
	assert.True(t, created.Success)
	assert.Equal(t, "Chatbot flow configuration saved successfully", created.Message)
	assert.NotEmpty(t, created.ID)

	status, body = do(t, "GET", h.ts.URL+"/api/config", "")
	require.Equal(t, http.StatusOK, status)
	var got domain.Flow
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "welcome", got.InitialBlock)
	assert.Equal(t, 6, got.Len())
	assert.Equal(t, domain.DefaultFlowVersion, got.Metadata.Version)

	// a second upload replaces the flow under the same id
	status, body = do(t, "POST", h.ts.URL+"/api/config",
		`{"blocks":[{"id":"only","type":"message","message":"hi"}],"initialBlock":"only"}`)
	require.Equal(t, http.StatusCreated, status)
	var second ConfigCreated
	require.NoError(t, json.Unmarshal(body, &second))
	assert.Equal(t, created.ID, second.ID)

	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.ConfigUploads.WithLabelValues("created")))
}

func TestConfigCreateRejects(t *testing.T) {
	h := newHarness(t, config.GatewayConfig{})

	tests := []struct {
		name    string
		body    string
		wantErr string
		details []string
	}{
		{"empty body", "", msgEmptyBody, nil},
		{"empty object", "{}", msgEmptyBody, nil},
		{"not json", "{oops", "Invalid configuration", []string{"Configuration must be an object"}},
		{
			"dangling initial block",
			`{"blocks":[{"id":"welcome","type":"message","message":"hi"}],"initialBlock":"non_existent_block"}`,
			"Invalid configuration",
			[]string{"Initial block with ID non_existent_block not found in blocks array"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, "POST", h.ts.URL+"/api/config", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)

			var got struct {
				Error   string   `json:"error"`
				Details []string `json:"details"`
			}
			require.NoError(t, json.Unmarshal(body, &got))
			assert.Equal(t, tt.wantErr, got.Error)
			assert.Equal(t, tt.details, got.Details)
		})
	}

	status, _ := do(t, "GET", h.ts.URL+"/api/config", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSessionEndpoints(t *testing.T) {
	h := newHarness(t, config.GatewayConfig{})
	h.pushFlow(t, weatherFlow)

	status, body := do(t, "GET", h.ts.URL+"/api/sessions", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"sessions":[],"totalPages":0,"currentPage":1,"totalSessions":0}`, string(body))

	var ids []string
	for range 3 {
		conn := h.dial(t, "")
		ids = append(ids, read(t, conn).SessionID)
		time.Sleep(5 * time.Millisecond)
	}

	status, body = do(t, "GET", h.ts.URL+"/api/sessions?page=1&limit=2", "")
	require.Equal(t, http.StatusOK, status)
	var page domain.SessionPage
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Equal(t, 3, page.TotalSessions)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Sessions, 2)
	assert.Equal(t, ids[2], page.Sessions[0].SessionID)

	status, body = do(t, "GET", h.ts.URL+"/api/sessions/"+ids[0], "")
	require.Equal(t, http.StatusOK, status)
	var sess domain.Session
	require.NoError(t, json.Unmarshal(body, &sess))
	assert.Equal(t, "wait_for_intent", sess.CurrentBlockID)
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, "Welcome to our chatbot!", sess.Messages[0].Content)

	status, _ = do(t, "GET", h.ts.URL+"/api/sessions/nope", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealthMetricsAndNotFound(t *testing.T) {
	h := newHarness(t, config.GatewayConfig{})
	h.pushFlow(t, weatherFlow)
	conn := h.dial(t, "")
	read(t, conn)

	status, body := do(t, "GET", h.ts.URL+"/health", "")
	require.Equal(t, http.StatusOK, status)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Connections)

	status, body = do(t, "GET", h.ts.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "flowbot_gateway_active_connections 1")
	assert.Contains(t, string(body), fmt.Sprintf(`flowbot_engine_turns_total{operation="start",outcome="%s"} 1`, domain.ResponseMessage))

	status, body = do(t, "GET", h.ts.URL+"/nowhere", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, string(body), `"path":"/nowhere"`)
}

func TestMetricsRouteNeedsCollectors(t *testing.T) {
	s := New(config.GatewayConfig{}, logging.Nop())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	status, _ := do(t, "GET", ts.URL+"/metrics", "")
	assert.Equal(t, http.StatusNotFound, status)
}
