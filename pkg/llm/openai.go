// Package llm implements the chat-completion collaborator against an
// OpenAI-compatible HTTP API, including tool calling and SSE streaming.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/researchpilot/orchestrator/pkg/domain"
)

// Client talks to an OpenAI-compatible chat completions endpoint
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	options    Options
}

// Options configures the client
type Options struct {
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Timeout     time.Duration `json:"timeout"`
}

// apiRequest is the wire shape of a chat completions request
type apiRequest struct {
	Model       string      `json:"model"`
	Messages    []apiMessage `json:"messages"`
	Tools       []apiTool   `json:"tools,omitempty"`
	ToolChoice  interface{} `json:"tool_choice,omitempty"`
	Temperature float64     `json:"temperature,omitempty"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
	Stream      bool        `json:"stream"`
}

type apiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []apiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type apiTool struct {
	Type     string      `json:"type"`
	Function apiFunction `json:"function"`
}

type apiFunction struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Parameters  domain.ToolSchema `json:"parameters"`
}

type apiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type apiResponse struct {
	Choices []struct {
		Message      apiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type apiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// NewClient creates a chat client for an OpenAI-compatible endpoint
func NewClient(baseURL, apiKey, model string, options *Options) *Client {
	if options == nil {
		options = &Options{
			Temperature: 0.7,
			MaxTokens:   4096,
			Timeout:     2 * time.Minute,
		}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: options.Timeout,
		},
		options: *options,
	}
}

// Complete performs a tool-augmented chat completion
func (c *Client) Complete(ctx context.Context, messages []domain.Message, tools []domain.ToolSpec, choice domain.ToolChoice) (*domain.ChatResponse, error) {
	req := apiRequest{
		Model:       c.model,
		Messages:    convertMessages(messages),
		Tools:       convertTools(tools),
		ToolChoice:  convertToolChoice(choice, len(tools) > 0),
		Temperature: c.options.Temperature,
		MaxTokens:   c.options.MaxTokens,
		Stream:      false,
	}

	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("chat provider returned status %d: %s", resp.StatusCode, string(body))
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("chat provider returned no choices")
	}

	chosen := apiResp.Choices[0]
	toolCalls, err := convertToolCalls(chosen.Message.ToolCalls)
	if err != nil {
		return nil, err
	}

	return &domain.ChatResponse{
		Content:      chosen.Message.Content,
		ToolCalls:    toolCalls,
		FinishReason: chosen.FinishReason,
		Usage: domain.TokenUsage{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		},
	}, nil
}

// Stream performs a plain streaming completion over SSE. Chunks are sent in
// arrival order; the final chunk has Done set.
func (c *Client) Stream(ctx context.Context, messages []domain.Message) (<-chan domain.StreamChunk, error) {
	req := apiRequest{
		Model:       c.model,
		Messages:    convertMessages(messages),
		Temperature: c.options.Temperature,
		MaxTokens:   c.options.MaxTokens,
		Stream:      true,
	}

	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("chat provider returned status %d: %s", resp.StatusCode, string(body))
	}

	stream := make(chan domain.StreamChunk)
	go func() {
		defer close(stream)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				stream <- domain.StreamChunk{Done: true}
				return
			}

			var chunk apiStreamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				stream <- domain.StreamChunk{Err: fmt.Errorf("failed to decode chunk: %w", err), Done: true}
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			select {
			case stream <- domain.StreamChunk{Content: chunk.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
			if chunk.Choices[0].FinishReason != "" {
				stream <- domain.StreamChunk{Done: true}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			stream <- domain.StreamChunk{Err: fmt.Errorf("stream read failed: %w", err), Done: true}
			return
		}
		stream <- domain.StreamChunk{Done: true}
	}()

	return stream, nil
}

func (c *Client) post(ctx context.Context, req apiRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		fmt.Sprintf("%s/v1/chat/completions", c.baseURL),
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func convertMessages(messages []domain.Message) []apiMessage {
	out := make([]apiMessage, len(messages))
	for i, msg := range messages {
		am := apiMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			args, _ := json.Marshal(tc.Args)
			atc := apiToolCall{ID: tc.ID, Type: "function"}
			atc.Function.Name = tc.Name
			atc.Function.Arguments = string(args)
			am.ToolCalls = append(am.ToolCalls, atc)
		}
		out[i] = am
	}
	return out
}

func convertTools(tools []domain.ToolSpec) []apiTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]apiTool, len(tools))
	for i, t := range tools {
		out[i] = apiTool{
			Type: "function",
			Function: apiFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema,
			},
		}
	}
	return out
}

// convertToolChoice maps the domain tool-choice modes onto the wire format:
// forced selection names the function, "any" maps to required, and auto/none
// pass through as strings.
func convertToolChoice(choice domain.ToolChoice, hasTools bool) interface{} {
	if !hasTools {
		return nil
	}
	switch choice.Mode {
	case domain.ToolChoiceForced:
		return map[string]interface{}{
			"type": "function",
			"function": map[string]string{
				"name": choice.Tool,
			},
		}
	case domain.ToolChoiceAny:
		return "required"
	case domain.ToolChoiceNone:
		return "none"
	default:
		return "auto"
	}
}

func convertToolCalls(calls []apiToolCall) ([]domain.ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	out := make([]domain.ToolCall, len(calls))
	for i, tc := range calls {
		args := make(map[string]interface{})
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("failed to parse tool call arguments for %s: %w", tc.Function.Name, err)
			}
		}
		out[i] = domain.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		}
	}
	return out, nil
}
