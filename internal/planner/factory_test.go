package planner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/marionette/internal/config"
	"github.com/xkilldash9x/marionette/internal/state"
)

func TestNew_ProviderSelection(t *testing.T) {
	logger := zap.NewNop()

	t.Run("gemini requires an API key", func(t *testing.T) {
		_, err := New(config.PlannerConfig{Provider: config.ProviderGemini}, logger)
		assert.Error(t, err)

		p, err := New(config.PlannerConfig{Provider: config.ProviderGemini, APIKey: "k", Model: "gemini-2.5-flash"}, logger)
		require.NoError(t, err)
		assert.IsType(t, &GeminiPlanner{}, p)
	})

	t.Run("vlm needs no key", func(t *testing.T) {
		p, err := New(config.PlannerConfig{Provider: config.ProviderVLM}, logger)
		require.NoError(t, err)
		assert.IsType(t, &VLMPlanner{}, p)
	})

	t.Run("none falls back to static planner", func(t *testing.T) {
		p, err := New(config.PlannerConfig{Provider: config.ProviderNone}, logger)
		require.NoError(t, err)
		assert.IsType(t, &StaticPlanner{}, p)
	})

	t.Run("unknown provider is rejected", func(t *testing.T) {
		_, err := New(config.PlannerConfig{Provider: "skynet"}, logger)
		assert.Error(t, err)
	})
}

func TestStaticPlanner_AlwaysWaits(t *testing.T) {
	p := NewStaticPlanner(zap.NewNop())

	raw, err := p.Plan(context.Background(), *state.New(time.Now()), "", Metadata{})
	require.NoError(t, err)
	require.Len(t, raw.Actions, 1)
	assert.Equal(t, "WAIT", raw.Actions[0]["action"])
}

func TestVLMPlanner_ChatURLs(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		endpoint string
		want     []string
	}{
		{
			endpoint: "http://127.0.0.1:11434",
			want: []string{
				"http://127.0.0.1:11434/v1/chat/completions",
				"http://127.0.0.1:11434/api/chat",
			},
		},
		{
			endpoint: "http://localhost:8080/v1",
			want: []string{
				"http://localhost:8080/v1/chat/completions",
				"http://localhost:8080/api/chat",
			},
		},
		{
			endpoint: "http://localhost:8080/v1/chat/completions",
			want: []string{
				"http://localhost:8080/v1/chat/completions",
				"http://localhost:8080/api/chat",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.endpoint, func(t *testing.T) {
			p, err := NewVLMPlanner(config.PlannerConfig{Provider: config.ProviderVLM, Endpoint: tc.endpoint}, logger)
			require.NoError(t, err)
			assert.Equal(t, tc.want, p.chatURLs())
		})
	}
}
