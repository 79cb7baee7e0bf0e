package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/researchpilot/orchestrator/pkg/domain"
	"github.com/researchpilot/orchestrator/pkg/observability"
)

const synthesisPrompt = `Write the final research report from the findings below.
Structure it clearly with markdown headings. Do not invent information that is
not supported by the findings.`

// Runner executes a plan's steps sequentially and owns the run's lifecycle:
// running, paused, cancelled, failed, completed. One Runner serves one plan.
type Runner struct {
	executor *StepExecutor
	chat     domain.ChatClient
	session  domain.SessionProvider
	store    domain.ConversationStore
	logger   observability.Logger
	metrics  *observability.Metrics

	mu       sync.Mutex
	plan     *domain.Plan
	findings *Findings
	status   domain.ExecutionStatus
	current  int
	runErr   string
	cancel   context.CancelFunc

	gate    *pauseGate
	emitter *emitter

	conversationID string
}

// RunnerConfig wires a plan runner
type RunnerConfig struct {
	Executor       *StepExecutor
	Chat           domain.ChatClient
	Session        domain.SessionProvider
	Store          domain.ConversationStore
	Logger         observability.Logger
	Metrics        *observability.Metrics
	EventSink      func(domain.Event)
	ConversationID string
}

// NewRunner creates a runner for one plan
func NewRunner(plan *domain.Plan, cfg RunnerConfig) (*Runner, error) {
	if plan == nil || len(plan.Steps) == 0 {
		return nil, fmt.Errorf("plan with at least one step is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("step executor is required")
	}
	if cfg.Session == nil {
		return nil, fmt.Errorf("session provider is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewStructuredLogger("runner")
	}
	if cfg.Chat == nil {
		cfg.Chat = cfg.Executor.chat
	}

	return &Runner{
		executor:       cfg.Executor,
		chat:           cfg.Chat,
		session:        cfg.Session,
		store:          cfg.Store,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		plan:           plan,
		findings:       &Findings{},
		status:         domain.ExecutionIdle,
		gate:           newPauseGate(),
		emitter:        newEmitter(cfg.EventSink),
		conversationID: cfg.ConversationID,
	}, nil
}

// Start begins executing the plan from its first step. It blocks until the
// run finishes, fails, or is cancelled. All entry points require an
// authenticated user.
func (r *Runner) Start(ctx context.Context) error {
	user, err := r.session.CurrentUser(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.status != domain.ExecutionIdle {
		r.mu.Unlock()
		return fmt.Errorf("plan run already started (status %s)", r.status)
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.status = domain.ExecutionRunning
	r.plan.Status = domain.PlanStatusActive
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordPlanStarted(ctx)
	}
	r.logger.Info(ctx, "plan run started", map[string]interface{}{
		"plan_id": r.plan.ID,
		"user_id": user.ID,
		"steps":   len(r.plan.Steps),
	})

	return r.runFrom(runCtx, 0)
}

// Retry re-executes a failed step and, on success, continues the plan from
// the step after it. The step's error is cleared and its tool loop restarts
// from empty local state; accumulated findings remain.
func (r *Runner) Retry(ctx context.Context) error {
	if _, err := r.session.CurrentUser(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	if r.status != domain.ExecutionError {
		r.mu.Unlock()
		return fmt.Errorf("retry requires a failed run (status %s)", r.status)
	}
	index := r.current
	step := r.plan.Steps[index]
	step.Error = ""
	step.Status = domain.StepStatusPending
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.status = domain.ExecutionRunning
	r.runErr = ""
	r.mu.Unlock()

	return r.runFrom(runCtx, index)
}

// Skip marks the current failed step as skipped and continues the plan from
// the next step.
func (r *Runner) Skip(ctx context.Context) error {
	if _, err := r.session.CurrentUser(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	if r.status != domain.ExecutionError {
		r.mu.Unlock()
		return fmt.Errorf("skip requires a failed run (status %s)", r.status)
	}
	index := r.current
	r.plan.Steps[index].Status = domain.StepStatusSkipped
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.status = domain.ExecutionRunning
	r.runErr = ""
	r.mu.Unlock()

	return r.runFrom(runCtx, index+1)
}

// Pause suspends execution at the next yield point
func (r *Runner) Pause() bool {
	r.mu.Lock()
	if r.status != domain.ExecutionRunning {
		r.mu.Unlock()
		return false
	}
	r.status = domain.ExecutionPaused
	r.mu.Unlock()

	ok := r.gate.Pause()
	if ok && r.metrics != nil {
		r.metrics.RecordPlanPaused(true)
	}
	return ok
}

// Resume releases a paused run exactly where it left off
func (r *Runner) Resume() bool {
	r.mu.Lock()
	if r.status != domain.ExecutionPaused {
		r.mu.Unlock()
		return false
	}
	r.status = domain.ExecutionRunning
	r.mu.Unlock()

	ok := r.gate.Resume()
	if ok && r.metrics != nil {
		r.metrics.RecordPlanPaused(false)
	}
	return ok
}

// Cancel aborts the run: the in-flight call is cancelled via context, the
// current step rolls back to pending, and all later pending steps become
// skipped. Findings accumulated before cancellation remain.
func (r *Runner) Cancel() {
	r.mu.Lock()
	cancel := r.cancel
	if r.status != domain.ExecutionRunning && r.status != domain.ExecutionPaused {
		r.mu.Unlock()
		return
	}
	r.status = domain.ExecutionCancelled
	r.plan.Status = domain.PlanStatusCancelled
	for _, step := range r.plan.Steps {
		switch step.Status {
		case domain.StepStatusInProgress:
			step.Status = domain.StepStatusPending
		case domain.StepStatusPending:
			step.Status = domain.StepStatusSkipped
		}
	}
	r.mu.Unlock()

	// Cancel the context before releasing the gate: a run paused in Wait
	// must wake to a non-nil ctx.Err(), or it would dispatch one more call.
	if cancel != nil {
		cancel()
	}
	r.gate.Resume()
}

// Findings returns the cumulative research document
func (r *Runner) Findings() string {
	return r.findings.Text()
}

// Actions returns the append-only action log in emission order
func (r *Runner) Actions() []*domain.AgentAction {
	return r.emitter.actionLog()
}

// Status reports the run's externally visible state
func (r *Runner) Status() domain.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	completed := 0
	for _, step := range r.plan.Steps {
		if step.Status == domain.StepStatusCompleted {
			completed++
		}
	}
	return domain.RunStatus{
		PlanID:         r.plan.ID,
		Status:         r.status,
		CurrentStep:    r.current,
		CompletedSteps: completed,
		TotalSteps:     len(r.plan.Steps),
		Error:          r.runErr,
	}
}

func (r *Runner) runFrom(ctx context.Context, start int) error {
	for i := start; i < len(r.plan.Steps); i++ {
		r.mu.Lock()
		if r.status == domain.ExecutionCancelled {
			r.mu.Unlock()
			r.finish(ctx, domain.ExecutionCancelled)
			return context.Canceled
		}
		step := r.plan.Steps[i]
		if step.Status == domain.StepStatusSkipped || step.Status == domain.StepStatusCompleted {
			r.mu.Unlock()
			continue
		}
		step.Status = domain.StepStatusInProgress
		r.current = i
		r.mu.Unlock()

		r.emitter.setStep(i)
		r.appendTranscript(ctx, "system", fmt.Sprintf("step %d started: %s", i, step.Content))

		started := time.Now()
		err := r.executor.ExecuteStep(ctx, step, i, r.findings, r.emitter, r.gate)

		if r.metrics != nil {
			r.metrics.RecordStep(ctx, time.Since(started), err == nil)
		}

		if err != nil {
			if ctx.Err() != nil {
				// cancellation already rolled statuses back
				r.finish(ctx, domain.ExecutionCancelled)
				return context.Canceled
			}

			r.mu.Lock()
			step.Status = domain.StepStatusFailed
			step.Error = err.Error()
			r.status = domain.ExecutionError
			r.runErr = err.Error()
			r.mu.Unlock()

			r.emitter.emit(domain.Event{Kind: domain.EventError, Label: "step failed", Err: err.Error()})
			r.logger.Error(ctx, "step failed", err, map[string]interface{}{"step": i})
			return err
		}

		r.mu.Lock()
		step.Status = domain.StepStatusCompleted
		r.mu.Unlock()
		r.appendTranscript(ctx, "assistant", fmt.Sprintf("step %d completed", i))
	}

	r.synthesize(ctx)
	r.finish(ctx, domain.ExecutionCompleted)
	r.emitter.emit(domain.Event{Kind: domain.EventComplete, Label: "plan completed"})
	r.emitter.emit(domain.Event{Kind: domain.EventDone})
	return nil
}

// synthesize streams the final report when every step succeeded and findings
// exist. A synthesis failure is a non-fatal action-level error: the plan is
// still completed with the raw findings.
func (r *Runner) synthesize(ctx context.Context) {
	text := r.findings.Text()
	if text == "" {
		return
	}

	finish := r.emitter.action(domain.EventWriting, domain.ActionSynthesis, "Writing final report")

	stream, err := r.chat.Stream(ctx, []domain.Message{
		{Role: "system", Content: synthesisPrompt},
		{Role: "user", Content: text},
	})
	if err != nil {
		finish(err)
		r.logger.Warn(ctx, "synthesis failed, keeping raw findings", map[string]interface{}{"error": err.Error()})
		return
	}

	var report []string
	for chunk := range stream {
		if chunk.Err != nil {
			finish(chunk.Err)
			r.logger.Warn(ctx, "synthesis stream failed, keeping raw findings", map[string]interface{}{"error": chunk.Err.Error()})
			return
		}
		if chunk.Content == "" {
			continue
		}
		// chunks append in arrival order
		report = append(report, chunk.Content)
		r.emitter.emit(domain.Event{Kind: domain.EventFindings, Findings: chunk.Content})
	}

	if len(report) > 0 {
		r.findings.Append("Final Report", joinChunks(report))
		r.appendTranscript(ctx, "assistant", "final report written")
	}
	finish(nil)
}

func (r *Runner) finish(ctx context.Context, status domain.ExecutionStatus) {
	r.mu.Lock()
	if r.status == domain.ExecutionCancelled {
		status = domain.ExecutionCancelled
	}
	r.status = status
	if status == domain.ExecutionCompleted {
		r.plan.Status = domain.PlanStatusCompleted
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordPlanFinished(ctx, string(status))
	}
}

func (r *Runner) appendTranscript(ctx context.Context, role, content string) {
	if r.store == nil || r.conversationID == "" {
		return
	}
	if err := r.store.AppendMessage(ctx, r.conversationID, role, content); err != nil {
		r.logger.Warn(ctx, "failed to persist transcript turn", map[string]interface{}{"error": err.Error()})
	}
}

func joinChunks(chunks []string) string {
	var b []byte
	for _, c := range chunks {
		b = append(b, c...)
	}
	return string(b)
}
