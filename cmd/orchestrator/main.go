package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/researchpilot/orchestrator/pkg/config"
	"github.com/researchpilot/orchestrator/pkg/domain"
	"github.com/researchpilot/orchestrator/pkg/executor"
	"github.com/researchpilot/orchestrator/pkg/llm"
	"github.com/researchpilot/orchestrator/pkg/memory"
	"github.com/researchpilot/orchestrator/pkg/observability"
	"github.com/researchpilot/orchestrator/pkg/recovery"
	"github.com/researchpilot/orchestrator/pkg/search"
	"github.com/researchpilot/orchestrator/pkg/session"
	"github.com/researchpilot/orchestrator/pkg/store"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"

	telemetry *observability.Telemetry
	metrics   *observability.Metrics
)

func main() {
	var (
		configPath = flag.String("config", "configs/default.yaml", "Path to configuration file")
		version    = flag.Bool("version", false, "Show version information")
		task       = flag.String("task", "", "Research task title")
		steps      = flag.String("steps", "", "Semicolon-separated plan steps")
	)
	flag.Parse()

	if *version {
		fmt.Printf("Research Pilot Orchestrator\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		os.Exit(0)
	}

	cfg := config.LoadOrDefault(*configPath)

	ctx := context.Background()
	if err := initObservability(cfg); err != nil {
		log.Fatalf("Failed to initialize observability: %v", err)
	}
	defer shutdownObservability(ctx)

	if err := run(ctx, cfg, *task, *steps); err != nil {
		log.Fatalf("Run failed: %v", err)
	}
}

func initObservability(cfg *config.Config) error {
	telConfig := &observability.TelemetryConfig{
		ServiceName:    "research-orchestrator",
		ServiceVersion: Version,
		Environment:    getEnvironment(),
		OTLPEndpoint:   cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		EnableTracing:  cfg.Observability.Tracing.Enabled,
		EnableMetrics:  cfg.Observability.Metrics.Enabled,
	}

	var err error
	telemetry, err = observability.NewTelemetry(telConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if cfg.Observability.Metrics.Enabled {
		metrics, err = observability.NewMetrics(telemetry.Meter())
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	return nil
}

func shutdownObservability(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down telemetry: %v", err)
		}
	}
}

func run(ctx context.Context, cfg *config.Config, task, steps string) error {
	logger := observability.NewStructuredLogger("main").
		WithMinLevel(observability.ParseLogLevel(cfg.Observability.Logging.Level))

	plan, err := buildPlan(task, steps)
	if err != nil {
		return err
	}

	llmTimeout, _ := cfg.GetDuration(cfg.LLM.Timeout)
	var chat domain.ChatClient = llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, &llm.Options{
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     llmTimeout,
	})
	if telemetry != nil && cfg.Observability.Tracing.Enabled {
		chat, err = llm.NewInstrumentedClient(chat, telemetry, metrics, cfg.LLM.Model)
		if err != nil {
			return fmt.Errorf("failed to instrument chat client: %w", err)
		}
	}

	searchTimeout, _ := cfg.GetDuration(cfg.Search.Timeout)
	searchClient := search.NewClient(cfg.Search.BaseURL, &search.Options{
		MaxResults: cfg.Search.MaxResults,
		Timeout:    searchTimeout,
	})
	fetcher := search.NewFetcher(searchTimeout)

	memTTL, _ := cfg.GetDuration(cfg.Memory.TTL)
	researchMemory := memory.New(&memory.Options{
		TTL:              memTTL,
		OverlapThreshold: cfg.Memory.OverlapThreshold,
	})

	retryPolicy, err := cfg.RetryPolicy()
	if err != nil {
		return fmt.Errorf("failed to build retry policy: %w", err)
	}
	retryPolicy.OnRetry(func(tool string, attempt int, cerr *recovery.ClassifiedError, wait time.Duration) {
		logger.Warn(ctx, "retrying tool call", map[string]interface{}{
			"tool":     tool,
			"attempt":  attempt,
			"category": string(cerr.Category),
			"wait":     wait.String(),
		})
	})

	stepExecutor, err := executor.NewStepExecutor(executor.StepExecutorConfig{
		Chat:           chat,
		Search:         searchClient,
		Fetcher:        fetcher,
		Memory:         researchMemory,
		Retry:          retryPolicy,
		Tracker:        recovery.NewTracker(),
		Logger:         logger.WithComponent("executor"),
		Telemetry:      telemetry,
		Metrics:        metrics,
		BaseIterations: cfg.Executor.BaseIterations,
	})
	if err != nil {
		return fmt.Errorf("failed to build step executor: %w", err)
	}

	conversationID := uuid.NewString()
	handler := &consoleHandler{}
	runner, err := executor.NewRunner(plan, executor.RunnerConfig{
		Executor:       stepExecutor,
		Chat:           chat,
		Session:        buildSessionProvider(cfg),
		Store:          store.NewMemoryStore(),
		Logger:         logger.WithComponent("runner"),
		Metrics:        metrics,
		ConversationID: conversationID,
		EventSink: func(e domain.Event) {
			domain.Dispatch(handler, e)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to build plan runner: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if token := os.Getenv("ORCHESTRATOR_TOKEN"); token != "" {
		runCtx = session.WithToken(runCtx, token)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Received shutdown signal")
		runner.Cancel()
		cancel()
	}()

	startTime := time.Now()
	logger.Info(ctx, "starting plan run", map[string]interface{}{
		"plan_id": plan.ID,
		"steps":   len(plan.Steps),
	})

	if err := runner.Start(runCtx); err != nil {
		return fmt.Errorf("plan run failed: %w", err)
	}

	fmt.Println("\n=== Research Findings ===")
	fmt.Println(runner.Findings())
	fmt.Printf("\nDuration: %s\n", time.Since(startTime))

	return nil
}

// buildSessionProvider uses the configured token table when present and falls
// back to a fixed local user for single-user CLI runs.
func buildSessionProvider(cfg *config.Config) domain.SessionProvider {
	if len(cfg.Auth.Tokens) > 0 {
		return session.NewTokenProvider(cfg.SessionUsers())
	}
	return session.NewStaticProvider(&domain.User{ID: "cli", Name: "CLI User"})
}

func buildPlan(task, steps string) (*domain.Plan, error) {
	if task == "" {
		return nil, fmt.Errorf("a research task is required (-task)")
	}

	var contents []string
	for _, s := range strings.Split(steps, ";") {
		if s = strings.TrimSpace(s); s != "" {
			contents = append(contents, s)
		}
	}
	if len(contents) == 0 {
		// single-step plan from the task itself
		contents = []string{task}
	}

	plan := domain.NewPlan(task, contents...)
	return plan, nil
}

func getEnvironment() string {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	return "development"
}

// consoleHandler renders the event stream for an interactive terminal.
type consoleHandler struct{}

func (h *consoleHandler) HandleThinking(e domain.Event) {
	fmt.Printf("[think] %s\n", e.Label)
}

func (h *consoleHandler) HandleSearching(e domain.Event) {
	fmt.Printf("[search] %s\n", e.Label)
}

func (h *consoleHandler) HandleSearchComplete(e domain.Event) {
	fmt.Printf("[search] %s: %s\n", e.Label, e.Detail)
}

func (h *consoleHandler) HandleWriting(e domain.Event) {
	fmt.Printf("[write] %s\n", e.Label)
}

func (h *consoleHandler) HandleComplete(e domain.Event) {
	fmt.Printf("[done] %s\n", e.Label)
}

func (h *consoleHandler) HandleError(e domain.Event) {
	fmt.Printf("[error] %s: %s\n", e.Label, e.Err)
}

func (h *consoleHandler) HandleSearchResults(e domain.Event) {
	for _, r := range e.SearchResults {
		fmt.Printf("  - %s (%s)\n", r.Title, r.URL)
	}
}

func (h *consoleHandler) HandleFindings(e domain.Event) {
	fmt.Print(e.Findings)
}

func (h *consoleHandler) HandleReasoning(e domain.Event) {
	fmt.Printf("[reason] %s\n", e.Reasoning)
}

func (h *consoleHandler) HandlePlanModification(e domain.Event) {
	fmt.Printf("[plan] step %d updated\n", e.StepIndex)
}

func (h *consoleHandler) HandleDone(e domain.Event) {
	fmt.Println()
}
