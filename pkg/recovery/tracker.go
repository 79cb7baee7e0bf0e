package recovery

import (
	"sync"
	"time"
)

// ToolHealth describes a tool's recent error rate
type ToolHealth string

const (
	// HealthOK means the tool has no concerning error rate
	HealthOK ToolHealth = "healthy"
	// HealthDegraded means errors are accumulating but the tool is usable
	HealthDegraded ToolHealth = "degraded"
	// HealthFailing means the tool should be avoided for now
	HealthFailing ToolHealth = "failing"
)

const (
	defaultWindow           = time.Minute
	defaultDegradedFailures = 2
	defaultAvoidFailures    = 3
)

// toolRecord tracks consecutive failures for one tool within a rolling window
type toolRecord struct {
	failures  int
	windowEnd time.Time
	lastError ErrorCategory
}

// Tracker counts per-tool failures over a rolling window. A failure outside
// the window starts a fresh count, and any success clears the tool. The step
// executor consults ShouldAvoidTool before offering a tool to the model.
type Tracker struct {
	mu     sync.RWMutex
	window time.Duration
	now    func() time.Time
	tools  map[string]*toolRecord
}

// NewTracker creates an error tracker with a one-minute rolling window
func NewTracker() *Tracker {
	return &Tracker{
		window: defaultWindow,
		now:    time.Now,
		tools:  make(map[string]*toolRecord),
	}
}

// RecordError counts a failure for the tool. Failures landing after the
// current window expired reset the count to one.
func (t *Tracker) RecordError(tool string, cerr *ClassifiedError) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	rec, ok := t.tools[tool]
	if !ok || now.After(rec.windowEnd) {
		rec = &toolRecord{windowEnd: now.Add(t.window)}
		t.tools[tool] = rec
	}
	rec.failures++
	if cerr != nil {
		rec.lastError = cerr.Category
	}
}

// RecordSuccess clears the failure count for the tool
func (t *Tracker) RecordSuccess(tool string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tools, tool)
}

// ShouldAvoidTool reports whether the tool has failed enough recently that
// the executor should steer the model away from it.
func (t *Tracker) ShouldAvoidTool(tool string) bool {
	return t.failuresInWindow(tool) >= defaultAvoidFailures
}

// Status returns the tool's current health bucket
func (t *Tracker) Status(tool string) ToolHealth {
	n := t.failuresInWindow(tool)
	switch {
	case n >= defaultAvoidFailures:
		return HealthFailing
	case n >= defaultDegradedFailures:
		return HealthDegraded
	default:
		return HealthOK
	}
}

// AvoidedTools returns the names of all tools currently past the avoidance
// threshold, for filtering a tool offer list.
func (t *Tracker) AvoidedTools() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	var avoided []string
	for name, rec := range t.tools {
		if !now.After(rec.windowEnd) && rec.failures >= defaultAvoidFailures {
			avoided = append(avoided, name)
		}
	}
	return avoided
}

func (t *Tracker) failuresInWindow(tool string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.tools[tool]
	if !ok || t.now().After(rec.windowEnd) {
		return 0
	}
	return rec.failures
}
