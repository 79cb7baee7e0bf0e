package domain

import (
	"context"
	"errors"
)

// ErrUnauthenticated is returned by core entry points when the session
// provider yields no user. Callers must treat it as fatal for the request.
var ErrUnauthenticated = errors.New("no authenticated user")

// ChatClient is the chat-completion provider consumed by the executor.
// Implementations must support forced single-tool selection and
// "any tool required" modes via ToolChoice.
type ChatClient interface {
	// Complete performs a tool-augmented chat completion
	Complete(ctx context.Context, messages []Message, tools []ToolSpec, choice ToolChoice) (*ChatResponse, error)

	// Stream performs a plain streaming completion (no tools), yielding
	// incremental content chunks in arrival order
	Stream(ctx context.Context, messages []Message) (<-chan StreamChunk, error)
}

// SearchClient is the web-search provider. Empty results are a valid outcome;
// only transport failures surface as errors.
type SearchClient interface {
	Search(ctx context.Context, query string) (*SearchResponse, error)
}

// PageFetcher loads a single page's readable content by URL
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// ConversationStore appends one role+content record per turn. The core is
// indifferent to the persistence schema beyond that.
type ConversationStore interface {
	AppendMessage(ctx context.Context, conversationID, role, content string) error
}

// SessionProvider resolves the caller's identity. All core entry points
// require a non-nil user and fail fast with ErrUnauthenticated otherwise.
type SessionProvider interface {
	CurrentUser(ctx context.Context) (*User, error)
}

// Message is one turn in the chat transcript
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"arguments"`
}

// ToolSpec describes a tool offered to the model
type ToolSpec struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Schema      ToolSchema `json:"schema"`
}

// ToolSchema defines the parameter schema for a tool
type ToolSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty defines a property in a tool schema
type SchemaProperty struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
}

// ToolChoiceMode selects how the provider constrains tool use
type ToolChoiceMode string

const (
	// ToolChoiceAuto lets the model decide whether to call a tool
	ToolChoiceAuto ToolChoiceMode = "auto"
	// ToolChoiceAny forces the model to call some tool
	ToolChoiceAny ToolChoiceMode = "any"
	// ToolChoiceForced forces the model to call the named tool
	ToolChoiceForced ToolChoiceMode = "forced"
	// ToolChoiceNone disables tool calling
	ToolChoiceNone ToolChoiceMode = "none"
)

// ToolChoice constrains the provider's tool selection for one completion
type ToolChoice struct {
	Mode ToolChoiceMode `json:"mode"`
	Tool string         `json:"tool,omitempty"` // set when Mode is forced
}

// ChatResponse is a completed chat turn
type ChatResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        TokenUsage `json:"usage"`
}

// StreamChunk is one increment of a streaming completion
type StreamChunk struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done"`
	Err     error  `json:"-"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// SearchResponse is the result set of one web search
type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

// SearchResult is a single web-search hit
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Page is a fetched web page
type Page struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}
