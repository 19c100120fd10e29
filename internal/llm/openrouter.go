package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/oxleyk/canvas-agent/internal/httpkit"
)

// OpenRouterClient talks to the OpenAI-compatible chat completions API
// served by OpenRouter (or any compatible gateway — set BaseURL).
type OpenRouterClient struct {
	baseURL    string
	apiKey     string
	maxTokens  int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenRouterClient creates a client against baseURL (e.g.
// "https://openrouter.ai/api/v1").
func NewOpenRouterClient(baseURL, apiKey string, maxTokens int, logger *slog.Logger) *OpenRouterClient {
	if logger == nil {
		logger = slog.Default()
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	// LLM responses can take significant time before sending headers
	// (thinking, long prompts). Use a custom transport with a generous
	// response header timeout.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &OpenRouterClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		maxTokens: maxTokens,
		logger:    logger.With("provider", "openrouter"),
		httpClient: httpkit.NewClient(
			// No global timeout — streaming responses can be long-lived.
			// Rely on ctx deadlines/cancellation for timeout control.
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// OpenAI-compatible wire types. Tool call arguments travel as a JSON
// string on the wire and as map[string]any internally; conversion
// happens in this file only.

type openaiRequest struct {
	Model         string           `json:"model"`
	Messages      []openaiMessage  `json:"messages"`
	Tools         []map[string]any `json:"tools,omitempty"`
	MaxTokens     int              `json:"max_tokens,omitempty"`
	Stream        bool             `json:"stream,omitempty"`
	StreamOptions *streamOptions   `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiToolCall struct {
	Index    *int   `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type openaiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openaiStreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta        openaiMessage `json:"delta"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage"`
}

// Chat sends a non-streaming chat completion request.
func (c *OpenRouterClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	body, err := c.send(ctx, model, messages, tools, false)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return c.handleNonStreaming(ctx, body)
}

// ChatStream sends a chat request, optionally streaming tokens via callback.
func (c *OpenRouterClient) ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any, callback StreamCallback) (*ChatResponse, error) {
	if callback == nil {
		return c.Chat(ctx, model, messages, tools)
	}
	body, err := c.send(ctx, model, messages, tools, true)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return c.handleStreaming(ctx, body, callback)
}

// Ping checks if the API is reachable and the key is accepted.
func (c *OpenRouterClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("invalid API key")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status from chat API: %d", resp.StatusCode)
	}
	return nil
}

func (c *OpenRouterClient) send(ctx context.Context, model string, messages []Message, tools []map[string]any, stream bool) (io.ReadCloser, error) {
	req := openaiRequest{
		Model:     model,
		Messages:  convertToWire(messages),
		Tools:     tools,
		MaxTokens: c.maxTokens,
		Stream:    stream,
	}
	if stream {
		req.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug("preparing request",
		"model", model,
		"messages", len(req.Messages),
		"tools", len(tools),
		"stream", stream,
	)
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		resp.Body.Close()
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("chat API error %d: %s", resp.StatusCode, errBody)
	}
	return resp.Body, nil
}

func (c *OpenRouterClient) handleNonStreaming(ctx context.Context, body io.Reader) (*ChatResponse, error) {
	var resp openaiResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty choices in response")
	}

	result := &ChatResponse{
		Model:     resp.Model,
		CreatedAt: time.Unix(resp.Created, 0),
		Message:   convertFromWire(resp.Choices[0].Message),
		Done:      true,
	}
	if resp.Usage != nil {
		result.InputTokens = resp.Usage.PromptTokens
		result.OutputTokens = resp.Usage.CompletionTokens
	}

	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Message.Content)

	return result, nil
}

func (c *OpenRouterClient) handleStreaming(ctx context.Context, body io.Reader, callback StreamCallback) (*ChatResponse, error) {
	scanner := bufio.NewScanner(body)
	// Increase scanner buffer for large responses
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		contentBuilder strings.Builder
		partials       = map[int]*toolCallPartial{}
		model          string
		usage          openaiUsage
	)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "[DONE]" {
			break
		}

		var chunk openaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // Skip malformed events
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				contentBuilder.WriteString(choice.Delta.Content)
				callback(StreamEvent{Kind: KindToken, Token: choice.Delta.Content})
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				p := partials[idx]
				if p == nil {
					p = &toolCallPartial{}
					partials[idx] = p
				}
				if tc.ID != "" {
					p.id = tc.ID
				}
				if tc.Function.Name != "" {
					p.name = tc.Function.Name
				}
				p.args.WriteString(tc.Function.Arguments)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		// The partial content is lost to retries but may already have
		// reached the callback; let the caller decide what to persist.
		return &ChatResponse{
			Model:   model,
			Message: Message{Role: "assistant", Content: contentBuilder.String()},
		}, fmt.Errorf("read stream: %w", err)
	}

	resp := &ChatResponse{
		Model: model,
		Message: Message{
			Role:      "assistant",
			Content:   contentBuilder.String(),
			ToolCalls: assembleToolCalls(partials),
		},
		Done:         true,
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
	}

	c.logger.Debug("stream complete",
		"model", resp.Model,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"content_len", len(resp.Message.Content),
		"tool_calls", len(resp.Message.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "stream final content", "content", resp.Message.Content)

	return resp, nil
}

// toolCallPartial accumulates the fragments of one tool call across
// stream chunks, keyed by the choice-level content index.
type toolCallPartial struct {
	id   string
	name string
	args strings.Builder
}

func assembleToolCalls(partials map[int]*toolCallPartial) []ToolCall {
	if len(partials) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(partials))
	for idx := range partials {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	calls := make([]ToolCall, 0, len(partials))
	for _, idx := range indexes {
		p := partials[idx]
		var args map[string]any
		if raw := p.args.String(); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				args = map[string]any{"_raw": raw}
			}
		}
		calls = append(calls, NewToolCall(p.id, p.name, args))
	}
	return calls
}

// convertToWire converts internal messages to the OpenAI wire shape,
// serializing tool arguments back to JSON strings.
func convertToWire(messages []Message) []openaiMessage {
	out := make([]openaiMessage, 0, len(messages))
	for _, msg := range messages {
		m := openaiMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			wire := openaiToolCall{ID: tc.ID, Type: "function"}
			wire.Function.Name = tc.Function.Name
			if tc.Function.Arguments != nil {
				if blob, err := json.Marshal(tc.Function.Arguments); err == nil {
					wire.Function.Arguments = string(blob)
				}
			}
			if wire.Function.Arguments == "" {
				wire.Function.Arguments = "{}"
			}
			m.ToolCalls = append(m.ToolCalls, wire)
		}
		out = append(out, m)
	}
	return out
}

func convertFromWire(m openaiMessage) Message {
	msg := Message{
		Role:       m.Role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	if msg.Role == "" {
		msg.Role = "assistant"
	}
	for _, tc := range m.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]any{"_raw": tc.Function.Arguments}
			}
		}
		msg.ToolCalls = append(msg.ToolCalls, NewToolCall(tc.ID, tc.Function.Name, args))
	}
	return msg
}
