// Package decision implements the decision engine boundary: an
// OpenAI-compatible chat endpoint is asked what to do for a channel, and its
// JSON answer is validated into a typed plan before anything executes.
package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"vigil/internal/domain"
	"vigil/internal/metrics"
)

const (
	defaultHTTPTimeout = 120 * time.Second
	defaultModel       = "gpt-4o-mini"
	defaultMaxTokens   = 2048
)

// Engine calls an OpenAI-compatible chat completions API and parses the
// returned plan. It implements domain.DecisionEngine.
type Engine struct {
	apiKey       string
	apiBase      string
	model        string
	systemPrompt string
	client       *http.Client
	logger       *slog.Logger
}

// EngineConfig configures the HTTP decision engine.
type EngineConfig struct {
	APIKey       string
	APIBase      string
	Model        string
	SystemPrompt string
	Logger       *slog.Logger
}

// NewEngine creates an HTTP-backed decision engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		apiKey:       cfg.APIKey,
		apiBase:      cfg.APIBase,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		client:       &http.Client{Timeout: defaultHTTPTimeout},
		logger:       cfg.Logger,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// rawPlan mirrors the JSON shape the model is asked to produce.
type rawPlan struct {
	Reasoning string `json:"reasoning"`
	Actions   []struct {
		ActionType string         `json:"action_type"`
		Parameters map[string]any `json:"parameters"`
		Reasoning  string         `json:"reasoning"`
		Priority   int            `json:"priority"`
	} `json:"actions"`
}

// Decide asks the model for a plan for one channel, given a compact context
// window built from the snapshot's recent activity.
func (e *Engine) Decide(ctx context.Context, snap domain.Snapshot, key domain.ChannelKey) (domain.Plan, error) {
	window, err := buildContextWindow(snap, key)
	if err != nil {
		return domain.Plan{}, fmt.Errorf("build context window: %w", err)
	}

	reqBody := chatRequest{
		Model: e.model,
		Messages: []chatMessage{
			{Role: "system", Content: e.systemPrompt + "\n\n" + planInstructions},
			{Role: "user", Content: window},
		},
		MaxTokens:   defaultMaxTokens,
		Temperature: 0.7,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return domain.Plan{}, fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	resp, err := doWithRetry(ctx, e.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, "POST", e.apiBase+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
		return req, nil
	}, e.logger)
	if err != nil {
		return domain.Plan{}, fmt.Errorf("decision engine request: %w", err)
	}
	defer resp.Body.Close()
	metrics.EngineLatency.Observe(time.Since(start).Seconds())

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.Plan{}, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return domain.Plan{}, fmt.Errorf("decision engine error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return domain.Plan{}, fmt.Errorf("decision engine returned no choices")
	}

	plan, err := ParsePlan(parsed.Choices[0].Message.Content)
	if err != nil {
		return domain.Plan{}, fmt.Errorf("parse plan: %w", err)
	}
	return plan, nil
}

// planInstructions tells the model exactly what JSON to return.
const planInstructions = `Respond with a single JSON object:
{"reasoning": "...", "actions": [{"action_type": "reply", "parameters": {"reply_to": "<message id>", "content": "..."}, "reasoning": "...", "priority": 5}]}

Valid action_type values: reply, send_message, join_channel, leave_channel, research, generate_media, update_status, none.
Return {"reasoning": "...", "actions": []} when nothing should be done.`

// buildContextWindow renders a compact JSON view of the channel's recent
// messages plus the global recent action history.
func buildContextWindow(snap domain.Snapshot, key domain.ChannelKey) (string, error) {
	type windowMessage struct {
		ID        string `json:"id"`
		Sender    string `json:"sender"`
		Content   string `json:"content"`
		Timestamp int64  `json:"timestamp"`
	}
	type window struct {
		Channel       string               `json:"channel"`
		Messages      []windowMessage      `json:"messages"`
		RecentActions []domain.ActionEntry `json:"recent_actions"`
	}

	win := window{Channel: key.String()}
	if byID, ok := snap.Channels[key.Platform]; ok {
		if ch, ok := byID[key.ID]; ok {
			for _, m := range ch.RecentMessages {
				win.Messages = append(win.Messages, windowMessage{
					ID:        m.ID,
					Sender:    m.Sender,
					Content:   m.Content,
					Timestamp: m.Timestamp.Unix(),
				})
			}
		}
	}
	win.RecentActions = snap.RecentActivity.Actions

	data, err := json.Marshal(win)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParsePlan validates raw model output into a typed plan. Action tags
// outside the closed set are a typed error, not a silent fall-through.
func ParsePlan(content string) (domain.Plan, error) {
	raw, err := extractPlanJSON(content)
	if err != nil {
		return domain.Plan{}, err
	}

	plan := domain.Plan{Reasoning: raw.Reasoning}
	for _, a := range raw.Actions {
		typ, err := domain.ParseActionType(a.ActionType)
		if err != nil {
			return domain.Plan{}, err
		}
		priority := a.Priority
		if priority < 1 {
			priority = 1
		}
		if priority > 10 {
			priority = 10
		}
		plan.Actions = append(plan.Actions, domain.Action{
			Type:       typ,
			Parameters: a.Parameters,
			Reasoning:  a.Reasoning,
			Priority:   priority,
		})
	}
	return plan, nil
}

// extractPlanJSON tolerates the usual model framing: code fences, prefix or
// suffix prose around the JSON object.
func extractPlanJSON(content string) (rawPlan, error) {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) >= 3 && strings.HasPrefix(lines[len(lines)-1], "```") {
			content = strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
		}
	}

	var raw rawPlan
	if err := json.Unmarshal([]byte(content), &raw); err == nil {
		return raw, nil
	}

	start, end := findJSONBounds(content)
	if start < 0 {
		return rawPlan{}, fmt.Errorf("no JSON object in engine output")
	}
	if err := json.Unmarshal([]byte(content[start:end]), &raw); err != nil {
		return rawPlan{}, fmt.Errorf("malformed plan JSON: %w", err)
	}
	return raw, nil
}

// findJSONBounds locates the first top-level JSON object in s. Returns the
// start index and end+1 index, or (-1, -1) if not found.
func findJSONBounds(s string) (int, int) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return -1, -1
	}

	depth := 0
	inStr := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inStr {
			if ch == '\\' {
				i++
				continue
			}
			if ch == '"' {
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return start, i + 1
			}
		}
	}
	return -1, -1
}
