package a2a_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/orchestrator/internal/a2a"
	"github.com/taskmesh/orchestrator/internal/types"
	"github.com/taskmesh/orchestrator/internal/value"
)

func TestClient_Invoke_DecodesSuccessfulResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req a2a.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "fetch", req.StepID)

		resp := a2a.Response{StepID: req.StepID, State: a2a.StateCompleted, Result: json.RawMessage(`{"doc":"hello"}`)}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	client := a2a.NewClient(a2a.ClientOptions{})
	agent := &types.AgentRecord{ID: "agent-1", Metadata: map[string]string{"endpoint": srv.URL}}
	step := &types.Step{ID: "fetch", AgentType: "fetcher"}

	out, err := client.Invoke(t.Context(), agent, step, value.Object(map[string]any{"url": "https://example.com"}))
	require.NoError(t, err)
	doc, ok := out.Get("doc")
	require.True(t, ok)
	s, _ := doc.String()
	assert.Equal(t, "hello", s)
}

func TestClient_Invoke_MapsAgentFailureToInvocationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := a2a.Response{State: a2a.StateFailed, Error: &a2a.ErrorDetail{Code: "timeout", Message: "agent timed out", Retryable: true}}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	client := a2a.NewClient(a2a.ClientOptions{})
	agent := &types.AgentRecord{ID: "agent-1", Metadata: map[string]string{"endpoint": srv.URL}}
	step := &types.Step{ID: "fetch", AgentType: "fetcher"}

	_, err := client.Invoke(t.Context(), agent, step, value.Object(map[string]any{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent timed out")
}

func TestClient_Invoke_MissingEndpointFailsFast(t *testing.T) {
	client := a2a.NewClient(a2a.ClientOptions{})
	agent := &types.AgentRecord{ID: "agent-1"}
	step := &types.Step{ID: "fetch"}

	_, err := client.Invoke(t.Context(), agent, step, value.Nil)
	require.Error(t, err)
}
