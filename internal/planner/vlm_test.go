package planner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/marionette/internal/config"
	"github.com/xkilldash9x/marionette/internal/state"
)

func setupVLMPlanner(t *testing.T, handler http.Handler) *VLMPlanner {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewVLMPlanner(config.PlannerConfig{
		Provider:   config.ProviderVLM,
		Model:      "qwen3-vl",
		Endpoint:   server.URL,
		APITimeout: 5 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestVLMPlanner_OpenAICompatResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req vlmChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qwen3-vl", req.Model)
		require.Len(t, req.Messages, 1)
		assert.NotEmpty(t, req.Messages[0].Images)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"actions\":[{\"action\":\"WAIT\",\"confidence\":0.6}]}"}}]}`))
	})

	p := setupVLMPlanner(t, mux)
	raw, err := p.Plan(context.Background(), *state.New(time.Now()), "cGl4ZWxz", Metadata{})
	require.NoError(t, err)
	require.Len(t, raw.Actions, 1)
	assert.Equal(t, "WAIT", raw.Actions[0]["action"])
}

func TestVLMPlanner_FallsBackToOllamaOn404(t *testing.T) {
	var ollamaHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		ollamaHits.Add(1)
		_, _ = w.Write([]byte(`{"message":{"content":"{\"actions\":[{\"action\":\"SCROLL\",\"confidence\":0.7}]}"}}`))
	})
	// /v1/chat/completions is unregistered, so the mux answers 404 there.

	p := setupVLMPlanner(t, mux)
	raw, err := p.Plan(context.Background(), *state.New(time.Now()), "", Metadata{})
	require.NoError(t, err)
	require.Len(t, raw.Actions, 1)
	assert.Equal(t, "SCROLL", raw.Actions[0]["action"])
	assert.Equal(t, int32(1), ollamaHits.Load())
}

func TestVLMPlanner_NonOKStatusFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	})

	p := setupVLMPlanner(t, mux)
	_, err := p.Plan(context.Background(), *state.New(time.Now()), "", Metadata{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestVLMPlanner_StripsDataURIPrefix(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req vlmChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		require.Len(t, req.Messages[0].Images, 1)
		assert.Equal(t, "cGl4ZWxz", req.Messages[0].Images[0])

		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"actions\":[]}"}}]}`))
	})

	p := setupVLMPlanner(t, mux)
	_, err := p.Plan(context.Background(), *state.New(time.Now()), "data:image/png;base64,cGl4ZWxz", Metadata{})
	require.NoError(t, err)
}
