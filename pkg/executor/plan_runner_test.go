package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/researchpilot/orchestrator/internal/testutil"
	"github.com/researchpilot/orchestrator/pkg/domain"
	"github.com/researchpilot/orchestrator/pkg/recovery"
)

// eventLog collects emitted events in order
type eventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func (l *eventLog) sink(e domain.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) kinds() []domain.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]domain.EventKind, len(l.events))
	for i, e := range l.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func (l *eventLog) count(kind domain.EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func fastRetryPolicy() *recovery.Policy {
	return recovery.NewPolicy(recovery.RetryConfig{
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
		Multiplier: 2.0,
	}, nil)
}

func newTestExecutor(t *testing.T, chat domain.ChatClient, search domain.SearchClient) *StepExecutor {
	t.Helper()
	ex, err := NewStepExecutor(StepExecutorConfig{
		Chat:    chat,
		Search:  search,
		Fetcher: testutil.NewMockFetcher(),
		Retry:   fastRetryPolicy(),
	})
	if err != nil {
		t.Fatalf("NewStepExecutor failed: %v", err)
	}
	return ex
}

func newTestRunner(t *testing.T, plan *domain.Plan, chat *testutil.MockChatClient, search *testutil.MockSearchClient, log *eventLog) *Runner {
	t.Helper()
	runner, err := NewRunner(plan, RunnerConfig{
		Executor:  newTestExecutor(t, chat, search),
		Session:   &testutil.MockSessionProvider{User: &domain.User{ID: "u1"}},
		EventSink: log.sink,
	})
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	return runner
}

func credibleResults() []domain.SearchResult {
	return []domain.SearchResult{
		testutil.Result("NIH study", "https://nih.gov/fusion", "summary"),
		testutil.Result("Nature paper", "https://nature.com/fusion", "summary"),
		testutil.Result("CDC note", "https://cdc.gov/fusion", "summary"),
	}
}

func longFindings() string {
	return strings.Repeat("fusion reactors remain experimental. ", 20)
}

func TestRunnerExecutesPlanToCompletion(t *testing.T) {
	search := testutil.NewMockSearchClient()
	search.Results["fusion reactors"] = credibleResults()

	chat := testutil.NewMockChatClient(
		// step 1
		testutil.ScriptedTurn{ToolCalls: []domain.ToolCall{testutil.SearchCall("fusion reactors")}},
		testutil.ScriptedTurn{ToolCalls: []domain.ToolCall{
			testutil.WriteCall("Reactors", longFindings()),
			testutil.EvaluateCall("complete"),
		}},
		// step 2
		testutil.ScriptedTurn{ToolCalls: []domain.ToolCall{
			testutil.WriteCall("Outlook", longFindings()),
			testutil.EvaluateCall("complete"),
		}},
	)
	chat.StreamContent = []string{"The final ", "report."}

	plan := domain.NewPlan("fusion", "look into fusion reactors", "summarize the outlook")
	log := &eventLog{}
	runner := newTestRunner(t, plan, chat, search, log)

	if err := runner.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i, step := range plan.Steps {
		if step.Status != domain.StepStatusCompleted {
			t.Errorf("step %d status = %s, want completed", i, step.Status)
		}
	}
	status := runner.Status()
	if status.Status != domain.ExecutionCompleted || status.CompletedSteps != 2 {
		t.Errorf("run status = %+v", status)
	}

	findings := runner.Findings()
	if !strings.Contains(findings, "Reactors") || !strings.Contains(findings, "Outlook") {
		t.Errorf("findings missing sections: %q", findings)
	}
	if !strings.Contains(findings, "The final report.") {
		t.Errorf("synthesis report not appended: %q", findings)
	}

	if log.count(domain.EventSearching) != 1 || log.count(domain.EventSearchResults) != 1 {
		t.Errorf("search events: %v", log.kinds())
	}
	kinds := log.kinds()
	if len(kinds) < 2 || kinds[len(kinds)-1] != domain.EventDone || kinds[len(kinds)-2] != domain.EventComplete {
		t.Errorf("stream must end with complete then done: %v", kinds)
	}
}

func TestRunnerForcesReasoningOnFirstIteration(t *testing.T) {
	chat := testutil.NewMockChatClient(
		testutil.ScriptedTurn{ToolCalls: []domain.ToolCall{
			testutil.WriteCall("", longFindings()),
			testutil.EvaluateCall("complete"),
		}},
	)
	plan := domain.NewPlan("t", "look into something")
	runner := newTestRunner(t, plan, chat, testutil.NewMockSearchClient(), &eventLog{})

	if err := runner.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if len(chat.Choices) == 0 {
		t.Fatal("no chat calls recorded")
	}
	first := chat.Choices[0]
	if first.Mode != domain.ToolChoiceForced || first.Tool != domain.ToolReason {
		t.Errorf("first tool choice = %+v, want forced reason", first)
	}
}

func TestRunnerRequiresAuthentication(t *testing.T) {
	plan := domain.NewPlan("t", "a step")
	runner, err := NewRunner(plan, RunnerConfig{
		Executor: newTestExecutor(t, testutil.NewMockChatClient(), testutil.NewMockSearchClient()),
		Session:  &testutil.MockSessionProvider{User: nil},
	})
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}

	if err := runner.Start(context.Background()); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("Start err = %v, want ErrUnauthenticated", err)
	}
	if plan.Steps[0].Status != domain.StepStatusPending {
		t.Error("unauthenticated start must not touch the plan")
	}
}

func TestRunnerStepFailureHaltsPlan(t *testing.T) {
	chat := testutil.NewMockChatClient(
		testutil.ScriptedTurn{Err: errors.New("provider unavailable")},
	)
	plan := domain.NewPlan("t", "first step", "second step")
	runner := newTestRunner(t, plan, chat, testutil.NewMockSearchClient(), &eventLog{})

	err := runner.Start(context.Background())
	if err == nil {
		t.Fatal("expected step failure to surface")
	}

	if plan.Steps[0].Status != domain.StepStatusFailed {
		t.Errorf("step 0 status = %s, want failed", plan.Steps[0].Status)
	}
	if plan.Steps[0].Error == "" {
		t.Error("failed step must carry its error message")
	}
	// the plan halts: step 2 is untouched, not auto-advanced
	if plan.Steps[1].Status != domain.StepStatusPending {
		t.Errorf("step 1 status = %s, want pending", plan.Steps[1].Status)
	}
	if runner.Status().Status != domain.ExecutionError {
		t.Errorf("run status = %s, want error", runner.Status().Status)
	}
}

func TestRunnerRetryAfterFailure(t *testing.T) {
	chat := testutil.NewMockChatClient(
		testutil.ScriptedTurn{Err: errors.New("provider unavailable")},
		testutil.ScriptedTurn{ToolCalls: []domain.ToolCall{
			testutil.WriteCall("Recovered", longFindings()),
			testutil.EvaluateCall("complete"),
		}},
	)
	plan := domain.NewPlan("t", "the only step")
	runner := newTestRunner(t, plan, chat, testutil.NewMockSearchClient(), &eventLog{})

	if err := runner.Start(context.Background()); err == nil {
		t.Fatal("expected first attempt to fail")
	}

	if err := runner.Retry(context.Background()); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if plan.Steps[0].Status != domain.StepStatusCompleted {
		t.Errorf("step status after retry = %s", plan.Steps[0].Status)
	}
	if plan.Steps[0].Error != "" {
		t.Error("retry must clear the step error")
	}
	if runner.Status().Status != domain.ExecutionCompleted {
		t.Errorf("run status = %s", runner.Status().Status)
	}
}

func TestRunnerSkipAfterFailure(t *testing.T) {
	chat := testutil.NewMockChatClient(
		testutil.ScriptedTurn{Err: errors.New("provider unavailable")},
		testutil.ScriptedTurn{ToolCalls: []domain.ToolCall{
			testutil.WriteCall("Second step", longFindings()),
			testutil.EvaluateCall("complete"),
		}},
	)
	plan := domain.NewPlan("t", "failing step", "surviving step")
	runner := newTestRunner(t, plan, chat, testutil.NewMockSearchClient(), &eventLog{})

	if err := runner.Start(context.Background()); err == nil {
		t.Fatal("expected first attempt to fail")
	}

	if err := runner.Skip(context.Background()); err != nil {
		t.Fatalf("Skip failed: %v", err)
	}
	if plan.Steps[0].Status != domain.StepStatusSkipped {
		t.Errorf("skipped step status = %s", plan.Steps[0].Status)
	}
	if plan.Steps[1].Status != domain.StepStatusCompleted {
		t.Errorf("surviving step status = %s", plan.Steps[1].Status)
	}
}

func TestRunnerCancelSkipsRemainingAndKeepsFindings(t *testing.T) {
	reachedSecondCall := make(chan struct{})

	chat := testutil.NewMockChatClient()
	calls := 0
	var mu sync.Mutex
	chat.CompleteFunc = func(ctx context.Context, messages []domain.Message, tools []domain.ToolSpec, choice domain.ToolChoice) (*domain.ChatResponse, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()

		if n == 1 {
			return &domain.ChatResponse{
				ToolCalls:    []domain.ToolCall{testutil.WriteCall("Partial", longFindings())},
				FinishReason: "tool_calls",
			}, nil
		}
		close(reachedSecondCall)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	plan := domain.NewPlan("t", "step one", "step two", "step three")
	runner := newTestRunner(t, plan, chat, testutil.NewMockSearchClient(), &eventLog{})

	done := make(chan error, 1)
	go func() { done <- runner.Start(context.Background()) }()

	<-reachedSecondCall
	runner.Cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Start err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not stop the run")
	}

	if plan.Steps[0].Status != domain.StepStatusPending {
		t.Errorf("in-flight step status = %s, want pending rollback", plan.Steps[0].Status)
	}
	for i := 1; i < 3; i++ {
		if plan.Steps[i].Status != domain.StepStatusSkipped {
			t.Errorf("step %d status = %s, want skipped", i, plan.Steps[i].Status)
		}
	}
	// findings appended before cancellation are not rolled back
	if !strings.Contains(runner.Findings(), "Partial") {
		t.Errorf("pre-cancel findings lost: %q", runner.Findings())
	}
	if runner.Status().Status != domain.ExecutionCancelled {
		t.Errorf("run status = %s", runner.Status().Status)
	}
}

func TestRunnerPauseResumeDoesNotReissueToolCall(t *testing.T) {
	search := testutil.NewMockSearchClient()
	search.Results["fusion reactors"] = credibleResults()

	firstCallStarted := make(chan struct{})
	releaseFirstCall := make(chan struct{})

	script := []testutil.ScriptedTurn{
		{ToolCalls: []domain.ToolCall{testutil.SearchCall("fusion reactors")}},
		{ToolCalls: []domain.ToolCall{
			testutil.WriteCall("Done", longFindings()),
			testutil.EvaluateCall("complete"),
		}},
	}
	chat := testutil.NewMockChatClient()
	calls := 0
	var mu sync.Mutex
	chat.CompleteFunc = func(ctx context.Context, messages []domain.Message, tools []domain.ToolSpec, choice domain.ToolChoice) (*domain.ChatResponse, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()

		if n == 1 {
			close(firstCallStarted)
			<-releaseFirstCall
		}
		turn := testutil.ScriptedTurn{Content: "done"}
		if n-1 < len(script) {
			turn = script[n-1]
		}
		finish := "stop"
		if len(turn.ToolCalls) > 0 {
			finish = "tool_calls"
		}
		return &domain.ChatResponse{Content: turn.Content, ToolCalls: turn.ToolCalls, FinishReason: finish}, nil
	}

	plan := domain.NewPlan("t", "look into fusion reactors")
	log := &eventLog{}
	runner := newTestRunner(t, plan, chat, search, log)

	done := make(chan error, 1)
	go func() { done <- runner.Start(context.Background()) }()

	// pause while the first chat call is in flight, then let it return: the
	// executor must block at the next yield point before dispatching the tool
	<-firstCallStarted
	if !runner.Pause() {
		t.Fatal("Pause failed")
	}
	close(releaseFirstCall)

	time.Sleep(100 * time.Millisecond)
	if got := search.CallCount; got != 0 {
		t.Fatalf("tool dispatched while paused: %d search calls", got)
	}
	if runner.Status().Status != domain.ExecutionPaused {
		t.Fatalf("status = %s, want paused", runner.Status().Status)
	}

	if !runner.Resume() {
		t.Fatal("Resume failed")
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run failed after resume: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after resume")
	}

	// resume re-issues nothing and drops nothing
	if search.CallCount != 1 {
		t.Errorf("search calls = %d, want exactly 1", search.CallCount)
	}
	if log.count(domain.EventSearching) != 1 || log.count(domain.EventSearchComplete) != 1 {
		t.Errorf("search events duplicated or dropped: %v", log.kinds())
	}
}

func TestRunnerCancelWhilePausedDispatchesNothing(t *testing.T) {
	search := testutil.NewMockSearchClient()
	search.Results["fusion reactors"] = credibleResults()

	firstCallStarted := make(chan struct{})
	releaseFirstCall := make(chan struct{})

	chat := testutil.NewMockChatClient()
	chat.CompleteFunc = func(ctx context.Context, messages []domain.Message, tools []domain.ToolSpec, choice domain.ToolChoice) (*domain.ChatResponse, error) {
		close(firstCallStarted)
		<-releaseFirstCall
		return &domain.ChatResponse{
			ToolCalls:    []domain.ToolCall{testutil.SearchCall("fusion reactors")},
			FinishReason: "tool_calls",
		}, nil
	}

	plan := domain.NewPlan("t", "look into fusion reactors", "second step")
	runner := newTestRunner(t, plan, chat, search, &eventLog{})

	done := make(chan error, 1)
	go func() { done <- runner.Start(context.Background()) }()

	<-firstCallStarted
	if !runner.Pause() {
		t.Fatal("Pause failed")
	}
	close(releaseFirstCall)

	// let the executor park at the gate before cancelling the paused run
	time.Sleep(50 * time.Millisecond)
	runner.Cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Start err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not release the paused run")
	}

	// the queued tool call must not run after Cancel
	if search.CallCount != 0 {
		t.Errorf("search calls after cancel = %d, want 0", search.CallCount)
	}
	if plan.Steps[0].Status != domain.StepStatusPending {
		t.Errorf("cancelled step status = %s, want pending", plan.Steps[0].Status)
	}
	if plan.Steps[1].Status != domain.StepStatusSkipped {
		t.Errorf("later step status = %s, want skipped", plan.Steps[1].Status)
	}
	if runner.Status().Status != domain.ExecutionCancelled {
		t.Errorf("run status = %s, want cancelled", runner.Status().Status)
	}
}

func TestRunnerSynthesisFailureIsNonFatal(t *testing.T) {
	chat := testutil.NewMockChatClient(
		testutil.ScriptedTurn{ToolCalls: []domain.ToolCall{
			testutil.WriteCall("Findings", longFindings()),
			testutil.EvaluateCall("complete"),
		}},
	)
	chat.StreamErr = errors.New("stream transport failed")

	plan := domain.NewPlan("t", "the only step")
	log := &eventLog{}
	runner := newTestRunner(t, plan, chat, testutil.NewMockSearchClient(), log)

	if err := runner.Start(context.Background()); err != nil {
		t.Fatalf("synthesis failure must not fail the run: %v", err)
	}
	if runner.Status().Status != domain.ExecutionCompleted {
		t.Errorf("run status = %s, want completed", runner.Status().Status)
	}
	if !strings.Contains(runner.Findings(), "Findings") {
		t.Error("raw findings must survive synthesis failure")
	}
	if log.count(domain.EventError) == 0 {
		t.Error("synthesis failure should emit an action-level error event")
	}
}

func TestRunnerToolFailureFedBackToModel(t *testing.T) {
	search := testutil.NewMockSearchClient()
	search.FailTimes = 10 // exhaust all retry attempts

	chat := testutil.NewMockChatClient(
		testutil.ScriptedTurn{ToolCalls: []domain.ToolCall{testutil.SearchCall("anything at all")}},
		testutil.ScriptedTurn{ToolCalls: []domain.ToolCall{
			testutil.WriteCall("Adapted", longFindings()),
			testutil.EvaluateCall("complete"),
		}},
	)

	plan := domain.NewPlan("t", "look into a topic")
	runner := newTestRunner(t, plan, chat, search, &eventLog{})

	if err := runner.Start(context.Background()); err != nil {
		t.Fatalf("exhausted tool retries must not fail the step: %v", err)
	}
	if plan.Steps[0].Status != domain.StepStatusCompleted {
		t.Errorf("step status = %s, want completed", plan.Steps[0].Status)
	}

	// the failure came back to the model as a tool-result message
	var sawFailureResult bool
	for _, msg := range chat.LastMessages {
		if msg.Role == "tool" && strings.Contains(msg.Content, "failed") {
			sawFailureResult = true
		}
	}
	if !sawFailureResult {
		t.Error("tool failure was not fed back as a tool result")
	}
}
