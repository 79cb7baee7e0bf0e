package testutil

import (
	"github.com/google/uuid"

	"github.com/researchpilot/orchestrator/pkg/domain"
)

// ToolCall builds a model tool-call request with a fresh ID
func ToolCall(name string, args map[string]interface{}) domain.ToolCall {
	return domain.ToolCall{
		ID:   uuid.NewString(),
		Name: name,
		Args: args,
	}
}

// SearchCall builds a web_search tool call
func SearchCall(query string) domain.ToolCall {
	return ToolCall(domain.ToolWebSearch, map[string]interface{}{"query": query})
}

// ReasonCall builds a reason tool call
func ReasonCall(thought string) domain.ToolCall {
	return ToolCall(domain.ToolReason, map[string]interface{}{"thought": thought})
}

// WriteCall builds a write_findings tool call
func WriteCall(title, content string) domain.ToolCall {
	return ToolCall(domain.ToolWriteFindings, map[string]interface{}{"title": title, "content": content})
}

// EvaluateCall builds a self_evaluate tool call
func EvaluateCall(verdict string) domain.ToolCall {
	return ToolCall(domain.ToolSelfEvaluate, map[string]interface{}{"verdict": verdict})
}

// Result builds one search result
func Result(title, url, content string) domain.SearchResult {
	return domain.SearchResult{Title: title, URL: url, Content: content}
}
