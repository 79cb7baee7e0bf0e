// Package testutil provides shared mocks for exercising the plan runner and
// step executor without network collaborators.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/researchpilot/orchestrator/pkg/domain"
)

// ScriptedTurn is one canned chat-completion response. A turn with ToolCalls
// drives the executor's tool loop; a turn without ends it.
type ScriptedTurn struct {
	Content   string
	ToolCalls []domain.ToolCall
	Err       error
}

// MockChatClient replays scripted turns in order. When the script runs out
// it returns a plain stop turn, so the executor's loop always terminates.
type MockChatClient struct {
	mu           sync.Mutex
	Script       []ScriptedTurn
	CallCount    int
	LastMessages []domain.Message
	LastTools    []domain.ToolSpec
	LastChoice   domain.ToolChoice
	Choices      []domain.ToolChoice

	// StreamContent is emitted chunk by chunk from Stream
	StreamContent []string
	StreamErr     error
	// CompleteFunc overrides the scripted behavior entirely when set
	CompleteFunc func(ctx context.Context, messages []domain.Message, tools []domain.ToolSpec, choice domain.ToolChoice) (*domain.ChatResponse, error)
}

// NewMockChatClient creates a mock chat client with the given script
func NewMockChatClient(script ...ScriptedTurn) *MockChatClient {
	return &MockChatClient{Script: script}
}

// Complete implements domain.ChatClient
func (m *MockChatClient) Complete(ctx context.Context, messages []domain.Message, tools []domain.ToolSpec, choice domain.ToolChoice) (*domain.ChatResponse, error) {
	if m.CompleteFunc != nil {
		m.mu.Lock()
		m.CallCount++
		m.mu.Unlock()
		return m.CompleteFunc(ctx, messages, tools, choice)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	turn := ScriptedTurn{Content: "done"}
	if m.CallCount < len(m.Script) {
		turn = m.Script[m.CallCount]
	}
	m.CallCount++
	m.LastMessages = messages
	m.LastTools = tools
	m.LastChoice = choice
	m.Choices = append(m.Choices, choice)

	if turn.Err != nil {
		return nil, turn.Err
	}

	finish := "stop"
	if len(turn.ToolCalls) > 0 {
		finish = "tool_calls"
	}
	return &domain.ChatResponse{
		Content:      turn.Content,
		ToolCalls:    turn.ToolCalls,
		FinishReason: finish,
		Usage:        domain.TokenUsage{PromptTokens: 50, CompletionTokens: 50, TotalTokens: 100},
	}, nil
}

// Stream implements domain.ChatClient
func (m *MockChatClient) Stream(ctx context.Context, messages []domain.Message) (<-chan domain.StreamChunk, error) {
	m.mu.Lock()
	streamErr := m.StreamErr
	content := m.StreamContent
	m.mu.Unlock()

	if streamErr != nil {
		return nil, streamErr
	}

	ch := make(chan domain.StreamChunk, len(content)+1)
	go func() {
		defer close(ch)
		for _, c := range content {
			ch <- domain.StreamChunk{Content: c}
		}
		ch <- domain.StreamChunk{Done: true}
	}()
	return ch, nil
}

// Calls returns the number of Complete calls made
func (m *MockChatClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// MockSearchClient returns canned results per query, with an optional
// failure count to exercise retries.
type MockSearchClient struct {
	mu        sync.Mutex
	Results   map[string][]domain.SearchResult
	FailTimes int
	FailWith  error
	CallCount int
	Queries   []string
}

// NewMockSearchClient creates a mock search client
func NewMockSearchClient() *MockSearchClient {
	return &MockSearchClient{Results: make(map[string][]domain.SearchResult)}
}

// Search implements domain.SearchClient
func (m *MockSearchClient) Search(ctx context.Context, query string) (*domain.SearchResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallCount++
	m.Queries = append(m.Queries, query)

	if m.FailTimes > 0 {
		m.FailTimes--
		if m.FailWith != nil {
			return nil, m.FailWith
		}
		return nil, fmt.Errorf("connection refused")
	}

	return &domain.SearchResponse{Results: m.Results[query]}, nil
}

// MockFetcher returns canned pages by URL
type MockFetcher struct {
	mu    sync.Mutex
	Pages map[string]*domain.Page
}

// NewMockFetcher creates a mock page fetcher
func NewMockFetcher() *MockFetcher {
	return &MockFetcher{Pages: make(map[string]*domain.Page)}
}

// Fetch implements domain.PageFetcher
func (m *MockFetcher) Fetch(ctx context.Context, url string) (*domain.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	page, ok := m.Pages[url]
	if !ok {
		return nil, fmt.Errorf("page not found: %s", url)
	}
	return page, nil
}

// MockSessionProvider returns a fixed user, or ErrUnauthenticated when nil
type MockSessionProvider struct {
	User *domain.User
}

// CurrentUser implements domain.SessionProvider
func (m *MockSessionProvider) CurrentUser(ctx context.Context) (*domain.User, error) {
	if m.User == nil {
		return nil, domain.ErrUnauthenticated
	}
	return m.User, nil
}

// RecordedMessage is one turn captured by MockConversationStore
type RecordedMessage struct {
	ConversationID string
	Role           string
	Content        string
}

// MockConversationStore records appended turns in order
type MockConversationStore struct {
	mu       sync.Mutex
	Messages []RecordedMessage
	Err      error
}

// AppendMessage implements domain.ConversationStore
func (m *MockConversationStore) AppendMessage(ctx context.Context, conversationID, role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Messages = append(m.Messages, RecordedMessage{ConversationID: conversationID, Role: role, Content: content})
	return nil
}

// Recorded returns a copy of the captured messages
func (m *MockConversationStore) Recorded() []RecordedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedMessage, len(m.Messages))
	copy(out, m.Messages)
	return out
}
