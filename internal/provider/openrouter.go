package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/wardenhq/warden/internal/log"
	"github.com/wardenhq/warden/internal/tools"
)

const (
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	openRouterReferer        = "https://github.com/wardenhq/warden"
	openRouterTitle          = "warden"
)

// OpenRouter talks to the OpenAI-compatible chat/completions endpoint.
// Conversation turns use the messages schema with tool_calls on assistant
// turns and role "tool" result turns.
type OpenRouter struct {
	apiKey      string
	baseURL     string
	temperature float32
	maxTokens   int
	httpClient  *http.Client
	logger      log.Logger
}

// OpenRouterOptions tunes the adapter. Zero values select defaults.
type OpenRouterOptions struct {
	BaseURL     string
	Temperature float32
	MaxTokens   int
	HTTPClient  *http.Client
}

// NewOpenRouter creates an OpenRouter adapter.
func NewOpenRouter(apiKey string, opts OpenRouterOptions, logger log.Logger) (*OpenRouter, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNoAPIKey
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenRouterBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &OpenRouter{
		apiKey:      apiKey,
		baseURL:     baseURL,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		httpClient:  httpClient,
		logger:      logger.With("component", "provider.openrouter"),
	}, nil
}

// Name identifies the adapter.
func (o *OpenRouter) Name() string { return "openrouter" }

type openRouterFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type openRouterTool struct {
	Type     string             `json:"type"`
	Function openRouterFunction `json:"function"`
}

type openRouterRequest struct {
	Model       string            `json:"model"`
	Messages    []json.RawMessage `json:"messages"`
	Temperature float32           `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Tools       []openRouterTool  `json:"tools,omitempty"`
	ToolChoice  string            `json:"tool_choice,omitempty"`
}

type openRouterResponse struct {
	Choices []struct {
		Message      json.RawMessage `json:"message"`
		FinishReason string          `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Content is raw because some models return block arrays instead of a
// plain string; non-string content degrades to empty text.
type openRouterMessage struct {
	Role             string          `json:"role"`
	Content          json.RawMessage `json:"content"`
	Reasoning        string          `json:"reasoning,omitempty"`
	ReasoningDetails []struct {
		Text string `json:"text"`
	} `json:"reasoning_details,omitempty"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
}

type openRouterToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// Generate runs one chat/completions call over the accumulated history. The
// assistant turn is rebuilt from the normalized text plus the verbatim
// tool_calls array, so replaying history round-trips the provider's own IDs.
func (o *OpenRouter) Generate(ctx context.Context, model, system string, history []json.RawMessage, specs []tools.Spec) (*Reply, error) {
	messages := history
	if strings.TrimSpace(system) != "" {
		messages = append([]json.RawMessage{systemTurn(system)}, history...)
	}

	req := openRouterRequest{
		Model:       model,
		Messages:    messages,
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
	}
	if tooldefs := openRouterTools(specs); len(tooldefs) > 0 {
		req.Tools = tooldefs
		req.ToolChoice = "auto"
	}

	resp, err := o.call(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.parseReply(resp)
}

// UserTurn wraps a prompt as a user message.
func (o *OpenRouter) UserTurn(prompt string) json.RawMessage {
	return mustMarshal(map[string]any{
		"role":    "user",
		"content": prompt,
	})
}

// ToolResultTurn wraps a tool result as a role "tool" message. Errors ride
// in the content like any other result.
func (o *OpenRouter) ToolResultTurn(call ToolCall, result string, isError bool) json.RawMessage {
	return mustMarshal(map[string]any{
		"role":         "tool",
		"tool_call_id": call.ID,
		"content":      result,
	})
}

// Complete runs a single-shot text completion without tools.
func (o *OpenRouter) Complete(ctx context.Context, model, system, user string) (string, error) {
	reply, err := o.Generate(ctx, model, system, []json.RawMessage{o.UserTurn(user)}, nil)
	if err != nil {
		return "", err
	}
	return reply.Text, nil
}

func (o *OpenRouter) call(ctx context.Context, req openRouterRequest) (*openRouterResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode openrouter request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build openrouter request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	httpReq.Header.Set("HTTP-Referer", openRouterReferer)
	httpReq.Header.Set("X-Title", openRouterTitle)

	httpResp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openrouter request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read openrouter response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		o.logger.Warn("openrouter request failed",
			"status", httpResp.StatusCode,
			"model", req.Model)
		return nil, fmt.Errorf("openrouter request failed with status %d: %s",
			httpResp.StatusCode, summarizeErrorBody(respBody))
	}

	var resp openRouterResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode openrouter response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("openrouter error: %s", resp.Error.Message)
	}
	return &resp, nil
}

func (o *OpenRouter) parseReply(resp *openRouterResponse) (*Reply, error) {
	if len(resp.Choices) == 0 || len(resp.Choices[0].Message) == 0 {
		return nil, fmt.Errorf("openrouter response is missing assistant message")
	}

	var msg openRouterMessage
	if err := json.Unmarshal(resp.Choices[0].Message, &msg); err != nil {
		return nil, fmt.Errorf("decode openrouter assistant message: %w", err)
	}

	text := extractOpenRouterText(msg)

	var rawCalls []openRouterToolCall
	if len(msg.ToolCalls) > 0 {
		if err := json.Unmarshal(msg.ToolCalls, &rawCalls); err != nil {
			return nil, fmt.Errorf("decode openrouter tool_calls: %w", err)
		}
	}

	calls := make([]ToolCall, 0, len(rawCalls))
	for _, raw := range rawCalls {
		name := strings.TrimSpace(raw.Function.Name)
		if name == "" {
			continue
		}
		argsRaw := raw.Function.Arguments
		if argsRaw == "" {
			argsRaw = "{}"
		}
		var args map[string]any
		if err := json.Unmarshal([]byte(argsRaw), &args); err != nil || args == nil {
			args = map[string]any{"_raw": argsRaw}
		}
		calls = append(calls, ToolCall{ID: raw.ID, Name: name, Args: args})
	}

	turn := map[string]any{
		"role":    "assistant",
		"content": text,
	}
	if len(calls) > 0 {
		turn["tool_calls"] = msg.ToolCalls
	}

	return &Reply{
		Turn:      mustMarshal(turn),
		Text:      text,
		ToolCalls: calls,
	}, nil
}

// extractOpenRouterText prefers content, then falls back to reasoning
// fields so reasoning-only models still yield a visible answer.
func extractOpenRouterText(msg openRouterMessage) string {
	var content string
	if len(msg.Content) > 0 {
		_ = json.Unmarshal(msg.Content, &content)
	}
	if trimmed := strings.TrimSpace(content); trimmed != "" {
		return trimmed
	}
	if trimmed := strings.TrimSpace(msg.Reasoning); trimmed != "" {
		return trimmed
	}
	var parts []string
	for _, detail := range msg.ReasoningDetails {
		if trimmed := strings.TrimSpace(detail.Text); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, "\n")
}

func systemTurn(system string) json.RawMessage {
	return mustMarshal(map[string]any{
		"role":    "system",
		"content": system,
	})
}

func openRouterTools(specs []tools.Spec) []openRouterTool {
	defs := make([]openRouterTool, 0, len(specs))
	for _, spec := range specs {
		fn := openRouterFunction{
			Name:        spec.Name,
			Description: spec.Description,
		}
		if spec.InputSchema != nil {
			if b, err := json.Marshal(spec.InputSchema); err == nil {
				fn.Parameters = b
			}
		}
		defs = append(defs, openRouterTool{Type: "function", Function: fn})
	}
	return defs
}
