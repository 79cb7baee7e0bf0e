package domain

import (
	"time"

	"github.com/google/uuid"
)

// StepStatus represents the current state of a plan step
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusSkipped    StepStatus = "skipped"
	StepStatusFailed     StepStatus = "failed"
)

// ExecutionStatus represents the overall state of a plan run
type ExecutionStatus string

const (
	ExecutionIdle      ExecutionStatus = "idle"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionCancelled ExecutionStatus = "cancelled"
	ExecutionError     ExecutionStatus = "error"
)

// PlanStatus represents the lifecycle state of a research plan
type PlanStatus string

const (
	PlanStatusDraft     PlanStatus = "draft"
	PlanStatusActive    PlanStatus = "active"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusCancelled PlanStatus = "cancelled"
	PlanStatusFailed    PlanStatus = "failed"
)

// Tool names understood by the step executor. These are the function names the
// chat provider sees in the tool schema and the keys used by the selector,
// retry policy, and error tracker.
const (
	ToolWebSearch     = "web_search"
	ToolBrowsePage    = "browse_page"
	ToolWriteFindings = "write_findings"
	ToolReason        = "reason"
	ToolValidateClaim = "validate_claim"
	ToolSelfEvaluate  = "self_evaluate"
)

// Plan is an ordered research plan for one user task
type Plan struct {
	ID       string      `json:"id"`
	Title    string      `json:"title"`
	Overview string      `json:"overview,omitempty"`
	Steps    []*PlanStep `json:"steps"`
	Status   PlanStatus  `json:"status"`
}

// PlanStep is one unit of a research plan, executed via an LLM tool loop.
// Status transitions: pending -> in_progress -> {completed|failed};
// failed -> {in_progress (retry) | skipped}; in_progress -> pending only on
// cancellation rollback.
type PlanStep struct {
	ID         string     `json:"id"`
	Content    string     `json:"content"`
	Status     StepStatus `json:"status"`
	IsOptional bool       `json:"is_optional,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// NewPlan creates a plan from step instruction texts
func NewPlan(title string, stepContents ...string) *Plan {
	steps := make([]*PlanStep, 0, len(stepContents))
	for _, content := range stepContents {
		steps = append(steps, &PlanStep{
			ID:      uuid.NewString(),
			Content: content,
			Status:  StepStatusPending,
		})
	}
	return &Plan{
		ID:     uuid.NewString(),
		Title:  title,
		Steps:  steps,
		Status: PlanStatusDraft,
	}
}

// ActionType classifies an observable unit of agent work
type ActionType string

const (
	ActionThinking   ActionType = "thinking"
	ActionSearching  ActionType = "searching"
	ActionBrowsing   ActionType = "browsing"
	ActionWriting    ActionType = "writing"
	ActionValidating ActionType = "validating"
	ActionSynthesis  ActionType = "synthesis"
)

// ActionStatus is the lifecycle of an AgentAction: running -> {completed|error}
type ActionStatus string

const (
	ActionRunning   ActionStatus = "running"
	ActionCompleted ActionStatus = "completed"
	ActionError     ActionStatus = "error"
)

// AgentAction is an append-only log entry for one observable unit of agent
// work. Actions are never mutated except for the status transition.
type AgentAction struct {
	ID        string       `json:"id"`
	Type      ActionType   `json:"type"`
	Label     string       `json:"label"`
	Status    ActionStatus `json:"status"`
	StepIndex int          `json:"step_index"`
	Timestamp time.Time    `json:"timestamp"`
}

// NewAgentAction creates an action in the running state
func NewAgentAction(actionType ActionType, label string, stepIndex int) *AgentAction {
	return &AgentAction{
		ID:        uuid.NewString(),
		Type:      actionType,
		Label:     label,
		Status:    ActionRunning,
		StepIndex: stepIndex,
		Timestamp: time.Now(),
	}
}

// ToolCallRecord is one entry in the executor's tool-call history
type ToolCallRecord struct {
	Tool      string    `json:"tool"`
	Timestamp time.Time `json:"timestamp"`
}

// QualityMetrics holds the four research-quality signals on a 1-5 scale.
// A zero field means the signal has not been measured yet; Average treats
// unmeasured fields as the neutral midpoint 3.
type QualityMetrics struct {
	SourceDiversity  float64 `json:"source_diversity,omitempty"`
	FactVerification float64 `json:"fact_verification,omitempty"`
	DepthOfAnalysis  float64 `json:"depth_of_analysis,omitempty"`
	SourceRecency    float64 `json:"source_recency,omitempty"`
}

// Average returns the unweighted mean of the four metrics, defaulting
// unmeasured (zero) fields to 3.
func (q QualityMetrics) Average() float64 {
	values := []float64{q.SourceDiversity, q.FactVerification, q.DepthOfAnalysis, q.SourceRecency}
	sum := 0.0
	for _, v := range values {
		if v == 0 {
			v = 3
		}
		sum += v
	}
	return sum / float64(len(values))
}

// ResearchContext is the ephemeral input to a tool-selection decision.
// It is recomputed from live execution state each time the selector is
// consulted and never persisted.
type ResearchContext struct {
	Iteration      int
	MaxIterations  int
	ToolHistory    []ToolCallRecord
	SourceCount    int
	HighAuthority  int
	ValidatedCount int
	SearchCount    int
	Quality        QualityMetrics
	StepText       string
	HasFindings    bool
	FindingsLength int
}

// Progress returns execution progress as a fraction in [0,1]
func (rc ResearchContext) Progress() float64 {
	if rc.MaxIterations <= 0 {
		return 0
	}
	p := float64(rc.Iteration) / float64(rc.MaxIterations)
	if p > 1 {
		p = 1
	}
	return p
}

// ResearchProgress is the snapshot the completion evaluator checks criteria
// against.
type ResearchProgress struct {
	SourceCount        int
	HighAuthority      int
	ValidatedCount     int
	FindingsLength     int
	HasWrittenFindings bool
	Quality            QualityMetrics
	// SelfEvaluation is the most recent self_evaluate recommendation
	// ("complete", "continue", or empty when no evaluation happened).
	SelfEvaluation string
}

// User identifies an authenticated caller
type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// RunStatus is the externally visible status of a plan run
type RunStatus struct {
	PlanID         string          `json:"plan_id"`
	Status         ExecutionStatus `json:"status"`
	CurrentStep    int             `json:"current_step"`
	CompletedSteps int             `json:"completed_steps"`
	TotalSteps     int             `json:"total_steps"`
	EstimatedTime  time.Duration   `json:"estimated_time,omitempty"`
	Error          string          `json:"error,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
