// internal/planner/vlm.go
package planner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/marionette/internal/action"
	"github.com/xkilldash9x/marionette/internal/config"
	"github.com/xkilldash9x/marionette/internal/state"
)

const defaultVLMBaseURL = "http://127.0.0.1:11434"

// VLMPlanner talks to a locally hosted vision model. It speaks the
// OpenAI-compatible chat completions shape first and falls back to Ollama's
// native /api/chat when the compat path answers 404.
type VLMPlanner struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ Planner = (*VLMPlanner)(nil)

// vlmChatRequest covers both wire shapes: Ollama reads images/options, the
// OpenAI-compatible path ignores them.
type vlmChatRequest struct {
	Model    string           `json:"model"`
	Messages []vlmChatMessage `json:"messages"`
	Stream   bool             `json:"stream"`
	Options  vlmOptions       `json:"options,omitempty"`
}

type vlmChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type vlmOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p,omitempty"`
	Seed        int     `json:"seed,omitempty"`
}

// vlmChatResponse covers both response shapes: choices for the OpenAI path,
// the top-level message for Ollama.
type vlmChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

// NewVLMPlanner initializes the planner against cfg.Endpoint, defaulting to
// the local Ollama port. No API key is required for local backends.
func NewVLMPlanner(cfg config.PlannerConfig, logger *zap.Logger) (*VLMPlanner, error) {
	baseURL := strings.TrimRight(cfg.Endpoint, "/")
	if baseURL == "" {
		baseURL = defaultVLMBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "qwen3-vl"
	}

	return &VLMPlanner{
		baseURL: baseURL,
		model:   model,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		logger: logger.Named("planner.vlm"),
	}, nil
}

// Plan posts the planning prompt to the first responding chat endpoint and
// parses the returned plan.
func (p *VLMPlanner) Plan(ctx context.Context, st state.AgentState, screenshotB64 string, meta Metadata) (*action.RawPlan, error) {
	prompt := BuildPrompt(st, screenshotB64 != "", meta)

	msg := vlmChatMessage{Role: "user"}
	if screenshotB64 != "" {
		// Data-URI prefixes confuse Ollama; send the raw payload.
		if idx := strings.Index(screenshotB64, ","); idx != -1 {
			screenshotB64 = screenshotB64[idx+1:]
		}
		msg.Content = prompt + "\n\nAnalyze the screenshot and respond with JSON only."
		msg.Images = []string{screenshotB64}
	} else {
		msg.Content = prompt + "\n\nNo screenshot available. Provide actions using the same JSON format."
	}

	payload := vlmChatRequest{
		Model:    p.model,
		Messages: []vlmChatMessage{msg},
		Stream:   false,
		Options: vlmOptions{
			NumPredict:  220,
			Temperature: 0.0,
			TopP:        0.9,
			Seed:        1,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat payload: %w", err)
	}

	var lastErr error
	for _, url := range p.chatURLs() {
		text, err := p.post(ctx, url, body)
		if err != nil {
			lastErr = err
			if isNotFound(err) {
				p.logger.Warn("Chat endpoint not found; trying next fallback.", zap.String("url", url))
				continue
			}
			return nil, err
		}
		return ParsePlanResponse[action.RawPlan](text)
	}
	return nil, fmt.Errorf("all VLM chat endpoints failed: %w", lastErr)
}

// chatURLs returns the endpoints to try: OpenAI-style first, then Ollama
// native. Explicit paths on the base URL are respected as-is.
func (p *VLMPlanner) chatURLs() []string {
	trimmed := p.baseURL

	var openaiURL string
	switch {
	case strings.HasSuffix(trimmed, "/v1/chat/completions"):
		openaiURL = trimmed
		trimmed = strings.TrimSuffix(trimmed, "/v1/chat/completions")
	case strings.HasSuffix(trimmed, "/chat/completions"):
		openaiURL = trimmed
		trimmed = strings.TrimSuffix(trimmed, "/chat/completions")
	case strings.HasSuffix(trimmed, "/v1"):
		openaiURL = trimmed + "/chat/completions"
		trimmed = strings.TrimSuffix(trimmed, "/v1")
	default:
		openaiURL = trimmed + "/v1/chat/completions"
	}

	var ollamaURL string
	switch {
	case strings.HasSuffix(trimmed, "/api/chat"):
		ollamaURL = trimmed
	case strings.HasSuffix(trimmed, "/api"):
		ollamaURL = trimmed + "/chat"
	default:
		ollamaURL = trimmed + "/api/chat"
	}

	if openaiURL == ollamaURL {
		return []string{openaiURL}
	}
	return []string{openaiURL, ollamaURL}
}

type notFoundError struct{ url string }

func (e *notFoundError) Error() string { return fmt.Sprintf("endpoint not found: %s", e.url) }

func isNotFound(err error) bool {
	var nf *notFoundError
	return errors.As(err, &nf)
}

func (p *VLMPlanner) post(ctx context.Context, url string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return "", &notFoundError{url: url}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("VLM API error: status %d, body: %s", resp.StatusCode, truncate(string(respBody), 300))
	}

	var parsed vlmChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}

	if len(parsed.Choices) > 0 {
		return parsed.Choices[0].Message.Content, nil
	}
	return parsed.Message.Content, nil
}
