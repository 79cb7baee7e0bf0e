// Package store provides in-memory persistence for conversation transcripts
// and plan checkpoints. It satisfies the ConversationStore collaborator and
// lets a plan run be inspected or resumed after the executor releases it.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/researchpilot/orchestrator/pkg/domain"
)

// StoredMessage is one persisted conversation turn
type StoredMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MemoryStore is an in-memory conversation and checkpoint store
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string][]StoredMessage
	checkpoints   map[string]*domain.Plan
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string][]StoredMessage),
		checkpoints:   make(map[string]*domain.Plan),
	}
}

// AppendMessage records one role+content turn on a conversation
func (s *MemoryStore) AppendMessage(ctx context.Context, conversationID, role, content string) error {
	if conversationID == "" {
		return fmt.Errorf("conversation ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conversationID] = append(s.conversations[conversationID], StoredMessage{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	return nil
}

// Messages returns a copy of a conversation's transcript in append order
func (s *MemoryStore) Messages(conversationID string) []StoredMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.conversations[conversationID]
	out := make([]StoredMessage, len(msgs))
	copy(out, msgs)
	return out
}

// SaveCheckpoint stores a deep copy of the plan keyed by its ID
func (s *MemoryStore) SaveCheckpoint(ctx context.Context, plan *domain.Plan) error {
	if plan == nil || plan.ID == "" {
		return fmt.Errorf("plan with an ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[plan.ID] = copyPlan(plan)
	return nil
}

// LoadCheckpoint returns a copy of a checkpointed plan
func (s *MemoryStore) LoadCheckpoint(ctx context.Context, planID string) (*domain.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, ok := s.checkpoints[planID]
	if !ok {
		return nil, fmt.Errorf("no checkpoint for plan %s", planID)
	}
	return copyPlan(plan), nil
}

// DeleteCheckpoint removes a checkpoint, if present
func (s *MemoryStore) DeleteCheckpoint(ctx context.Context, planID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, planID)
}

// copies are exchanged so callers never share step structs with the store
func copyPlan(plan *domain.Plan) *domain.Plan {
	cp := *plan
	cp.Steps = make([]*domain.PlanStep, len(plan.Steps))
	for i, step := range plan.Steps {
		stepCopy := *step
		cp.Steps[i] = &stepCopy
	}
	return &cp
}
