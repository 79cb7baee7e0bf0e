package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/researchpilot/orchestrator/pkg/authority"
	"github.com/researchpilot/orchestrator/pkg/completion"
	"github.com/researchpilot/orchestrator/pkg/domain"
	"github.com/researchpilot/orchestrator/pkg/memory"
	"github.com/researchpilot/orchestrator/pkg/observability"
	"github.com/researchpilot/orchestrator/pkg/recovery"
	"github.com/researchpilot/orchestrator/pkg/selector"
)

// DefaultBaseIterations is the starting tool-loop budget per step, before
// completion criteria adjust it.
const DefaultBaseIterations = 8

const systemPrompt = `You are a research agent executing one step of a research plan.
Use the available tools to gather, verify, and write up information.
Always finish a step by writing your findings with the write_findings tool.`

// Findings is the cumulative research document for a task. Sections are
// appended in call order and never reordered.
type Findings struct {
	mu       sync.Mutex
	sections []string
}

// Append adds one markdown section
func (f *Findings) Append(title, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if title != "" {
		f.sections = append(f.sections, fmt.Sprintf("## %s\n\n%s", title, content))
	} else {
		f.sections = append(f.sections, content)
	}
}

// Text returns the full document
func (f *Findings) Text() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.sections, "\n\n")
}

// Len returns the document length in bytes
func (f *Findings) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sections {
		n += len(s)
	}
	return n
}

// stepState is the per-step mutable execution state feeding the selector and
// completion evaluator. It resets on step retry; findings do not.
type stepState struct {
	sourceDomains map[string]struct{}
	highAuthority int
	validated     int
	searches      int
	pagesBrowsed  int
	toolHistory   []domain.ToolCallRecord
	selfEval      string
	wroteFindings bool
}

func newStepState() *stepState {
	return &stepState{sourceDomains: make(map[string]struct{})}
}

func (s *stepState) recordSource(rawURL string, auth authority.Authority) {
	host := rawURL
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	key := strings.TrimPrefix(host, "www.")
	if _, seen := s.sourceDomains[key]; seen {
		return
	}
	s.sourceDomains[key] = struct{}{}
	if auth.Tier == authority.TierHigh {
		s.highAuthority++
	}
}

// quality estimates the four metrics from observed counters, leaving
// unmeasured dimensions at zero so they default to neutral.
func (s *stepState) quality(findingsLen int) domain.QualityMetrics {
	return domain.QualityMetrics{
		SourceDiversity:  clampScale(float64(len(s.sourceDomains)), 1.2),
		FactVerification: clampScale(float64(s.validated), 2),
		DepthOfAnalysis:  clampScale(float64(findingsLen)/400, 1),
	}
}

func clampScale(n, perUnit float64) float64 {
	v := 1 + n*perUnit
	if v > 5 {
		v = 5
	}
	return v
}

func (s *stepState) progress(findings *Findings) domain.ResearchProgress {
	return domain.ResearchProgress{
		SourceCount:        len(s.sourceDomains),
		HighAuthority:      s.highAuthority,
		ValidatedCount:     s.validated,
		FindingsLength:     findings.Len(),
		HasWrittenFindings: s.wroteFindings || findings.Len() > 0,
		Quality:            s.quality(findings.Len()),
		SelfEvaluation:     s.selfEval,
	}
}

func (s *stepState) researchContext(stepText string, iteration, maxIterations int, findings *Findings) domain.ResearchContext {
	return domain.ResearchContext{
		Iteration:      iteration,
		MaxIterations:  maxIterations,
		ToolHistory:    s.toolHistory,
		SourceCount:    len(s.sourceDomains),
		HighAuthority:  s.highAuthority,
		ValidatedCount: s.validated,
		SearchCount:    s.searches,
		Quality:        s.quality(findings.Len()),
		StepText:       stepText,
		HasFindings:    s.wroteFindings || findings.Len() > 0,
		FindingsLength: findings.Len(),
	}
}

// StepExecutor runs one step's LLM tool loop. Tool calls within the loop are
// strictly sequential: one outstanding call resolves before the next model
// turn.
type StepExecutor struct {
	chat      domain.ChatClient
	search    domain.SearchClient
	fetcher   domain.PageFetcher
	memory    *memory.Memory
	retry     *recovery.Policy
	tracker   *recovery.Tracker
	logger    observability.Logger
	telemetry *observability.Telemetry
	metrics   *observability.Metrics

	baseIterations int
}

// StepExecutorConfig wires the executor's collaborators. Chat, Search, and
// Memory are required; the rest default sensibly.
type StepExecutorConfig struct {
	Chat           domain.ChatClient
	Search         domain.SearchClient
	Fetcher        domain.PageFetcher
	Memory         *memory.Memory
	Retry          *recovery.Policy
	Tracker        *recovery.Tracker
	Logger         observability.Logger
	Telemetry      *observability.Telemetry
	Metrics        *observability.Metrics
	BaseIterations int
}

// NewStepExecutor creates a step executor
func NewStepExecutor(cfg StepExecutorConfig) (*StepExecutor, error) {
	if cfg.Chat == nil {
		return nil, fmt.Errorf("chat client is required")
	}
	if cfg.Search == nil {
		return nil, fmt.Errorf("search client is required")
	}
	if cfg.Memory == nil {
		cfg.Memory = memory.New(nil)
	}
	if cfg.Retry == nil {
		cfg.Retry = recovery.NewPolicy(recovery.DefaultRetryConfig(), nil)
	}
	if cfg.Tracker == nil {
		cfg.Tracker = recovery.NewTracker()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewStructuredLogger("executor")
	}
	if cfg.BaseIterations <= 0 {
		cfg.BaseIterations = DefaultBaseIterations
	}

	return &StepExecutor{
		chat:           cfg.Chat,
		search:         cfg.Search,
		fetcher:        cfg.Fetcher,
		memory:         cfg.Memory,
		retry:          cfg.Retry,
		tracker:        cfg.Tracker,
		logger:         cfg.Logger,
		telemetry:      cfg.Telemetry,
		metrics:        cfg.Metrics,
		baseIterations: cfg.BaseIterations,
	}, nil
}

// ExecuteStep runs the tool loop for one step. A failure of the top-level
// chat call aborts the step; exhausted tool retries are fed back to the
// model as tool results instead.
func (ex *StepExecutor) ExecuteStep(ctx context.Context, step *domain.PlanStep, stepIndex int, findings *Findings, em *emitter, gate *pauseGate) error {
	criteria := completion.DeriveCriteria(step.Content)
	state := newStepState()

	status := completion.CheckCompletion(state.progress(findings), criteria)
	maxIterations := completion.AdjustIterationLimit(ex.baseIterations, criteria, status.Score)

	messages := []domain.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: ex.stepPrompt(step.Content, findings)},
	}

	run := func(ctx context.Context) error {
		for iteration := 1; iteration <= maxIterations; iteration++ {
			if err := gate.Wait(ctx); err != nil {
				return err
			}

			rc := state.researchContext(step.Content, iteration, maxIterations, findings)
			suggestion := selector.Select(rc)
			choice := selector.ToAPIToolChoice(suggestion)
			tools := ex.toolSpecs(suggestion)

			if suggestion.Reason != "" && suggestion.Type != selector.SuggestionAuto {
				messages = append(messages, domain.Message{
					Role:    "system",
					Content: fmt.Sprintf("Guidance: %s.", suggestion.Reason),
				})
			}

			response, err := ex.chat.Complete(ctx, messages, tools, choice)
			if err != nil {
				return fmt.Errorf("chat completion failed: %w", err)
			}

			if len(response.ToolCalls) == 0 {
				if response.Content != "" {
					messages = append(messages, domain.Message{Role: "assistant", Content: response.Content})
				}
				break
			}

			messages = append(messages, domain.Message{
				Role:      "assistant",
				Content:   response.Content,
				ToolCalls: response.ToolCalls,
			})

			for _, tc := range response.ToolCalls {
				if err := gate.Wait(ctx); err != nil {
					return err
				}

				result := ex.dispatchTool(ctx, tc, stepIndex, state, findings, em)
				state.toolHistory = append(state.toolHistory, domain.ToolCallRecord{Tool: tc.Name, Timestamp: time.Now()})
				messages = append(messages, domain.Message{
					Role:       "tool",
					Content:    result,
					ToolCallID: tc.ID,
				})
			}

			decision := completion.ShouldContinue(state.progress(findings), criteria, iteration, maxIterations)
			if !decision.Continue {
				ex.logger.Info(ctx, "step loop stopping", map[string]interface{}{
					"step":      stepIndex,
					"iteration": iteration,
					"reason":    decision.Reason,
					"forced":    decision.Forced,
				})
				break
			}
		}
		return nil
	}

	if ex.telemetry != nil {
		return ex.telemetry.InstrumentStepExecution(ctx, stepIndex, step.Content, run)
	}
	return run(ctx)
}

func (ex *StepExecutor) stepPrompt(stepText string, findings *Findings) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current step: %s\n\n", stepText)
	if text := findings.Text(); text != "" {
		fmt.Fprintf(&b, "Findings so far:\n%s\n\n", text)
	}
	if ctx := ex.memory.ContextString(); ctx != "" {
		fmt.Fprintf(&b, "%s\n", ctx)
	}
	return b.String()
}

// dispatchTool executes one tool call and returns the tool-result content to
// feed back to the model. Failures never abort the step here; they come back
// as error text with recovery guidance so the model can adapt.
func (ex *StepExecutor) dispatchTool(ctx context.Context, tc domain.ToolCall, stepIndex int, state *stepState, findings *Findings, em *emitter) string {
	invoke := func(ctx context.Context) (string, error) {
		switch tc.Name {
		case domain.ToolWebSearch:
			return ex.runSearch(ctx, tc, state, em)
		case domain.ToolBrowsePage:
			return ex.runBrowse(ctx, tc, state, em)
		case domain.ToolWriteFindings:
			return ex.runWriteFindings(tc, state, findings, em)
		case domain.ToolReason:
			return ex.runReason(tc, em)
		case domain.ToolValidateClaim:
			return ex.runValidateClaim(ctx, tc, state, em)
		case domain.ToolSelfEvaluate:
			return ex.runSelfEvaluate(tc, state)
		default:
			return "", fmt.Errorf("unknown tool: %s", tc.Name)
		}
	}

	var result string
	op := func(ctx context.Context) error {
		var err error
		result, err = invoke(ctx)
		return err
	}

	wrapped := op
	if ex.telemetry != nil {
		wrapped = func(ctx context.Context) error {
			return ex.telemetry.InstrumentToolCall(ctx, tc.Name, op)
		}
	}

	err := ex.retry.Execute(ctx, tc.Name, wrapped)
	if err != nil {
		cerr := recovery.Classify(err)
		ex.tracker.RecordError(tc.Name, cerr)
		ex.logger.Warn(ctx, "tool call failed", map[string]interface{}{
			"tool":     tc.Name,
			"category": string(cerr.Category),
			"error":    cerr.Error(),
		})
		return fmt.Sprintf("Tool %s failed (%s): %v. %s", tc.Name, cerr.Category, cerr.Err, cerr.Guidance)
	}

	ex.tracker.RecordSuccess(tc.Name)
	return result
}

func (ex *StepExecutor) runSearch(ctx context.Context, tc domain.ToolCall, state *stepState, em *emitter) (string, error) {
	query := stringArg(tc, "query")
	if query == "" {
		return "", fmt.Errorf("web_search: missing query argument")
	}

	finish := em.action(domain.EventSearching, domain.ActionSearching, fmt.Sprintf("Searching: %s", query))

	var results []domain.SearchResult
	if cached := ex.memory.GetCachedSearch(query, "web"); cached != nil {
		results = cached.Results
		ex.recordCacheLookup(ctx, "search", true)
	} else {
		ex.recordCacheLookup(ctx, "search", false)
		resp, err := ex.search.Search(ctx, query)
		if err != nil {
			finish(err)
			return "", err
		}
		results = resp.Results
		ex.memory.CacheSearch(query, results, "web")
	}
	state.searches++

	scored := make([]string, 0, len(results))
	for _, r := range results {
		auth := authority.Score(r.URL)
		state.recordSource(r.URL, auth)
		scored = append(scored, fmt.Sprintf("- %s (%s, authority %d/%s): %s", r.Title, r.URL, auth.Score, auth.Tier, r.Content))
	}

	finish(nil)
	em.emit(domain.Event{Kind: domain.EventSearchComplete, Label: query, Detail: fmt.Sprintf("%d results", len(results))})
	em.emit(domain.Event{Kind: domain.EventSearchResults, SearchResults: results})

	if len(results) == 0 {
		return "No results found for this query. Try different search terms.", nil
	}
	return strings.Join(scored, "\n"), nil
}

func (ex *StepExecutor) runBrowse(ctx context.Context, tc domain.ToolCall, state *stepState, em *emitter) (string, error) {
	pageURL := stringArg(tc, "url")
	if pageURL == "" {
		return "", fmt.Errorf("browse_page: missing url argument")
	}
	if ex.fetcher == nil {
		return "", fmt.Errorf("browse_page: no page fetcher configured")
	}

	finish := em.action(domain.EventSearching, domain.ActionBrowsing, fmt.Sprintf("Reading: %s", pageURL))

	if cached := ex.memory.GetCachedPage(pageURL); cached != nil {
		ex.recordCacheLookup(ctx, "page", true)
		finish(nil)
		return cached.Content, nil
	}
	ex.recordCacheLookup(ctx, "page", false)

	page, err := ex.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		finish(err)
		return "", err
	}

	auth := authority.Score(pageURL)
	state.recordSource(pageURL, auth)
	state.pagesBrowsed++
	ex.memory.CachePage(pageURL, page.Content, page.Title, &auth)

	finish(nil)
	return fmt.Sprintf("Content of %s (authority %d/%s):\n%s", pageURL, auth.Score, auth.Tier, page.Content), nil
}

func (ex *StepExecutor) runWriteFindings(tc domain.ToolCall, state *stepState, findings *Findings, em *emitter) (string, error) {
	content := stringArg(tc, "content")
	if content == "" {
		return "", fmt.Errorf("write_findings: missing content argument")
	}
	title := stringArg(tc, "title")

	finish := em.action(domain.EventWriting, domain.ActionWriting, "Writing findings")
	findings.Append(title, content)
	state.wroteFindings = true
	finish(nil)

	em.emit(domain.Event{Kind: domain.EventFindings, Findings: findings.Text()})
	return "Findings recorded.", nil
}

func (ex *StepExecutor) runReason(tc domain.ToolCall, em *emitter) (string, error) {
	thought := stringArg(tc, "thought")
	if thought == "" {
		return "", fmt.Errorf("reason: missing thought argument")
	}

	finish := em.action(domain.EventThinking, domain.ActionThinking, "Reasoning")
	finish(nil)
	em.emit(domain.Event{Kind: domain.EventReasoning, Reasoning: thought})
	return "Reasoning noted. Proceed with the next action.", nil
}

// runValidateClaim searches for independent evidence of a claim and records
// it as validated when supporting sources are found.
func (ex *StepExecutor) runValidateClaim(ctx context.Context, tc domain.ToolCall, state *stepState, em *emitter) (string, error) {
	claim := stringArg(tc, "claim")
	if claim == "" {
		return "", fmt.Errorf("validate_claim: missing claim argument")
	}

	finish := em.action(domain.EventSearching, domain.ActionValidating, fmt.Sprintf("Validating: %s", truncate(claim, 80)))

	if ex.memory.HasValidatedClaim(claim) {
		finish(nil)
		info := ex.memory.GetValidationInfo(claim)
		return fmt.Sprintf("Claim already validated against: %s", strings.Join(info.Sources, ", ")), nil
	}

	resp, err := ex.search.Search(ctx, claim)
	if err != nil {
		finish(err)
		return "", err
	}

	var supporting []string
	for _, r := range resp.Results {
		auth := authority.Score(r.URL)
		if auth.Tier == authority.TierHigh || auth.Tier == authority.TierMedium {
			supporting = append(supporting, r.URL)
			ex.memory.RecordValidatedClaim(claim, r.URL)
			state.recordSource(r.URL, auth)
		}
	}
	finish(nil)

	if len(supporting) == 0 {
		return "No credible sources found supporting this claim. Treat it as unverified.", nil
	}
	state.validated++
	return fmt.Sprintf("Claim supported by %d credible sources: %s", len(supporting), strings.Join(supporting, ", ")), nil
}

func (ex *StepExecutor) runSelfEvaluate(tc domain.ToolCall, state *stepState) (string, error) {
	verdict := strings.ToLower(stringArg(tc, "verdict"))
	if verdict != "complete" && verdict != "continue" {
		return "", fmt.Errorf("self_evaluate: verdict must be complete or continue")
	}
	state.selfEval = verdict
	return fmt.Sprintf("Self-evaluation recorded: %s.", verdict), nil
}

// toolSpecs builds the tool schemas offered to the model, dropping tools the
// selector blocked and tools the error tracker says to avoid.
func (ex *StepExecutor) toolSpecs(suggestion selector.Suggestion) []domain.ToolSpec {
	blocked := make(map[string]struct{})
	for _, tool := range suggestion.Blocked {
		blocked[tool] = struct{}{}
	}
	for _, tool := range ex.tracker.AvoidedTools() {
		blocked[tool] = struct{}{}
	}
	// a forced tool is always offered, even when blocked
	if suggestion.Type == selector.SuggestionRequired {
		delete(blocked, suggestion.Tool)
	}

	var specs []domain.ToolSpec
	for _, spec := range allToolSpecs {
		if _, skip := blocked[spec.Name]; skip {
			continue
		}
		specs = append(specs, spec)
	}
	return specs
}

var allToolSpecs = []domain.ToolSpec{
	{
		Name:        domain.ToolWebSearch,
		Description: "Search the web for sources on a topic",
		Schema: domain.ToolSchema{
			Type: "object",
			Properties: map[string]domain.SchemaProperty{
				"query": {Type: "string", Description: "The search query"},
			},
			Required: []string{"query"},
		},
	},
	{
		Name:        domain.ToolBrowsePage,
		Description: "Read the full content of a web page found in search results",
		Schema: domain.ToolSchema{
			Type: "object",
			Properties: map[string]domain.SchemaProperty{
				"url": {Type: "string", Description: "The page URL to read"},
			},
			Required: []string{"url"},
		},
	},
	{
		Name:        domain.ToolWriteFindings,
		Description: "Append a markdown section to the research findings",
		Schema: domain.ToolSchema{
			Type: "object",
			Properties: map[string]domain.SchemaProperty{
				"title":   {Type: "string", Description: "Section heading"},
				"content": {Type: "string", Description: "Markdown content of the findings"},
			},
			Required: []string{"content"},
		},
	},
	{
		Name:        domain.ToolReason,
		Description: "Think through the current step before acting",
		Schema: domain.ToolSchema{
			Type: "object",
			Properties: map[string]domain.SchemaProperty{
				"thought": {Type: "string", Description: "Your reasoning about what to do next"},
			},
			Required: []string{"thought"},
		},
	},
	{
		Name:        domain.ToolValidateClaim,
		Description: "Check a factual claim against independent credible sources",
		Schema: domain.ToolSchema{
			Type: "object",
			Properties: map[string]domain.SchemaProperty{
				"claim": {Type: "string", Description: "The claim to validate"},
			},
			Required: []string{"claim"},
		},
	},
	{
		Name:        domain.ToolSelfEvaluate,
		Description: "Judge whether the step's research is sufficient",
		Schema: domain.ToolSchema{
			Type: "object",
			Properties: map[string]domain.SchemaProperty{
				"verdict":   {Type: "string", Description: "complete or continue", Enum: []string{"complete", "continue"}},
				"rationale": {Type: "string", Description: "Why"},
			},
			Required: []string{"verdict"},
		},
	},
}

func (ex *StepExecutor) recordCacheLookup(ctx context.Context, kind string, hit bool) {
	if ex.metrics != nil {
		ex.metrics.RecordCacheLookup(ctx, kind, hit)
	}
}

func stringArg(tc domain.ToolCall, key string) string {
	v, _ := tc.Args[key].(string)
	return strings.TrimSpace(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
