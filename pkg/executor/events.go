// Package executor runs research plans: it drives each step's LLM tool loop,
// enforces pause/cancel semantics, and emits the progress/data event stream.
package executor

import (
	"sync"
	"time"

	"github.com/researchpilot/orchestrator/pkg/domain"
)

// emitter serializes event emission and records the action log. Events are
// delivered to the sink in emission order; the sink must not block for long.
type emitter struct {
	mu      sync.Mutex
	sink    func(domain.Event)
	actions []*domain.AgentAction
	step    int
}

func newEmitter(sink func(domain.Event)) *emitter {
	if sink == nil {
		sink = func(domain.Event) {}
	}
	return &emitter{sink: sink}
}

func (em *emitter) setStep(index int) {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.step = index
}

func (em *emitter) emit(e domain.Event) {
	em.mu.Lock()
	e.Timestamp = time.Now()
	e.StepIndex = em.step
	sink := em.sink
	em.mu.Unlock()
	sink(e)
}

// action starts a running AgentAction, emits its progress event, and returns
// a finish func that transitions the action and emits the terminal event.
func (em *emitter) action(kind domain.EventKind, actionType domain.ActionType, label string) func(err error) {
	em.mu.Lock()
	act := domain.NewAgentAction(actionType, label, em.step)
	em.actions = append(em.actions, act)
	em.mu.Unlock()

	em.emit(domain.Event{Kind: kind, Label: label, Action: act})

	return func(err error) {
		em.mu.Lock()
		if err != nil {
			act.Status = domain.ActionError
		} else {
			act.Status = domain.ActionCompleted
		}
		em.mu.Unlock()

		if err != nil {
			em.emit(domain.Event{Kind: domain.EventError, Label: label, Err: err.Error(), Action: act})
		}
	}
}

func (em *emitter) actionLog() []*domain.AgentAction {
	em.mu.Lock()
	defer em.mu.Unlock()
	out := make([]*domain.AgentAction, len(em.actions))
	copy(out, em.actions)
	return out
}
