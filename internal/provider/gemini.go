package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wardenhq/warden/internal/log"
	"github.com/wardenhq/warden/internal/tools"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultHTTPTimeout   = 90 * time.Second
)

// Gemini talks to the generateContent REST endpoint. Conversation turns use
// the contents/parts schema with functionCall and functionResponse parts.
type Gemini struct {
	apiKey      string
	baseURL     string
	temperature float32
	maxTokens   int
	httpClient  *http.Client
	logger      log.Logger
}

// GeminiOptions tunes the adapter. Zero values select defaults.
type GeminiOptions struct {
	BaseURL     string
	Temperature float32
	MaxTokens   int
	HTTPClient  *http.Client
}

// NewGemini creates a Gemini adapter.
func NewGemini(apiKey string, opts GeminiOptions, logger log.Logger) (*Gemini, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNoAPIKey
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Gemini{
		apiKey:      apiKey,
		baseURL:     baseURL,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		httpClient:  httpClient,
		logger:      logger.With("component", "provider.gemini"),
	}, nil
}

// Name identifies the adapter.
func (g *Gemini) Name() string { return "gemini" }

type geminiPart struct {
	Text             string              `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse map[string]any      `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float32 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiFunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []json.RawMessage      `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
	Tools             []geminiTool           `json:"tools,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Role  string            `json:"role"`
			Parts []json.RawMessage `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// Generate runs one generateContent call over the accumulated history and
// returns the assistant turn with its raw parts preserved. Preserving the
// raw parts keeps provider metadata (thought signatures and such) intact
// when the turn is replayed.
func (g *Gemini) Generate(ctx context.Context, model, system string, history []json.RawMessage, specs []tools.Spec) (*Reply, error) {
	req := geminiRequest{
		Contents: history,
		GenerationConfig: geminiGenerationConfig{
			Temperature:     g.temperature,
			MaxOutputTokens: g.maxTokens,
		},
	}
	if strings.TrimSpace(system) != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	if decls := geminiDeclarations(specs); len(decls) > 0 {
		req.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	resp, err := g.call(ctx, model, req)
	if err != nil {
		return nil, err
	}
	return g.parseReply(resp)
}

// UserTurn wraps a prompt as a user content turn.
func (g *Gemini) UserTurn(prompt string) json.RawMessage {
	return mustMarshal(geminiContent{
		Role:  "user",
		Parts: []geminiPart{{Text: prompt}},
	})
}

// ToolResultTurn wraps a tool result as a functionResponse turn. Gemini has
// no tool role, results travel back as user turns.
func (g *Gemini) ToolResultTurn(call ToolCall, result string, isError bool) json.RawMessage {
	payload := map[string]any{"output": result}
	if isError {
		payload = map[string]any{"error": result}
	}
	return mustMarshal(geminiContent{
		Role: "user",
		Parts: []geminiPart{{
			FunctionResponse: map[string]any{
				"name": call.Name,
				"response": map[string]any{
					"name":    call.Name,
					"content": payload,
				},
			},
		}},
	})
}

// Complete runs a single-shot text completion without tools.
func (g *Gemini) Complete(ctx context.Context, model, system, user string) (string, error) {
	reply, err := g.Generate(ctx, model, system, []json.RawMessage{g.UserTurn(user)}, nil)
	if err != nil {
		return "", err
	}
	return reply.Text, nil
}

func (g *Gemini) call(ctx context.Context, model string, req geminiRequest) (*geminiResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read gemini response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		g.logger.Warn("gemini request failed",
			"status", httpResp.StatusCode,
			"model", model)
		return nil, fmt.Errorf("gemini request failed with status %d: %s",
			httpResp.StatusCode, summarizeErrorBody(respBody))
	}

	var resp geminiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode gemini response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("gemini error %d (%s): %s",
			resp.Error.Code, resp.Error.Status, resp.Error.Message)
	}
	return &resp, nil
}

func (g *Gemini) parseReply(resp *geminiResponse) (*Reply, error) {
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("gemini response is missing candidates[0].content.parts")
	}
	parts := resp.Candidates[0].Content.Parts

	var textParts []string
	var calls []ToolCall
	for i, raw := range parts {
		var part geminiPart
		if err := json.Unmarshal(raw, &part); err != nil {
			continue
		}
		if trimmed := strings.TrimSpace(part.Text); trimmed != "" {
			textParts = append(textParts, trimmed)
		}
		if part.FunctionCall == nil {
			continue
		}
		name := strings.TrimSpace(part.FunctionCall.Name)
		if name == "" {
			continue
		}
		id := part.FunctionCall.ID
		if id == "" {
			id = fmt.Sprintf("gemini_call_%d_%d", i, time.Now().UnixNano())
		}
		args := part.FunctionCall.Args
		if args == nil {
			args = map[string]any{}
		}
		calls = append(calls, ToolCall{ID: id, Name: name, Args: args})
	}

	turn := mustMarshal(struct {
		Role  string            `json:"role"`
		Parts []json.RawMessage `json:"parts"`
	}{Role: "model", Parts: parts})

	return &Reply{
		Turn:      turn,
		Text:      strings.Join(textParts, "\n"),
		ToolCalls: calls,
	}, nil
}

func geminiDeclarations(specs []tools.Spec) []geminiFunctionDeclaration {
	decls := make([]geminiFunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		decl := geminiFunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
		}
		if spec.InputSchema != nil {
			if b, err := json.Marshal(spec.InputSchema); err == nil {
				decl.Parameters = b
			}
		}
		decls = append(decls, decl)
	}
	return decls
}
