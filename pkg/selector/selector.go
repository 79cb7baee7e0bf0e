// Package selector decides which tool the model should use next, based on
// research phase, recent tool-call history, quality metrics, and step text.
// The decision is advisory except for "required" suggestions, which become a
// forced tool choice on the chat API call.
package selector

import (
	"strings"

	"github.com/researchpilot/orchestrator/pkg/domain"
)

// Phase is the inferred stage of research for the current step
type Phase string

const (
	// PhaseDiscovery is the initial broad-search stage
	PhaseDiscovery Phase = "discovery"
	// PhaseInvestigation is the source-gathering stage
	PhaseInvestigation Phase = "investigation"
	// PhaseValidation is the claim-checking stage
	PhaseValidation Phase = "validation"
	// PhaseSynthesis is the writing stage
	PhaseSynthesis Phase = "synthesis"
)

// SuggestionType says how strongly a suggestion binds
type SuggestionType string

const (
	// SuggestionRequired forces the tool on the next chat call
	SuggestionRequired SuggestionType = "required"
	// SuggestionSuggested is a prompt-level nudge only
	SuggestionSuggested SuggestionType = "suggested"
	// SuggestionBlocked marks tools the model should not be offered
	SuggestionBlocked SuggestionType = "blocked"
	// SuggestionAuto leaves the choice to the model
	SuggestionAuto SuggestionType = "auto"
)

// Suggestion is the selector's output for one model turn
type Suggestion struct {
	Type         SuggestionType
	Tool         string
	Reason       string
	Alternatives []string
	Blocked      []string
	Phase        Phase
}

const (
	loopWindow       = 6
	loopDistinctMax  = 2
	overuseWindow    = 10
	overuseThreshold = 4
)

// tools exempt from overuse blocking since repeated use of them is normal
var overuseExempt = map[string]struct{}{
	domain.ToolWriteFindings: {},
	domain.ToolReason:        {},
	domain.ToolSelfEvaluate:  {},
}

var phasePreferredTools = map[Phase][]string{
	PhaseDiscovery:     {domain.ToolWebSearch, domain.ToolReason},
	PhaseInvestigation: {domain.ToolWebSearch, domain.ToolBrowsePage},
	PhaseValidation:    {domain.ToolValidateClaim, domain.ToolWebSearch},
	PhaseSynthesis:     {domain.ToolWriteFindings, domain.ToolSelfEvaluate},
}

// DetectPhase infers the research phase from execution progress
func DetectPhase(rc domain.ResearchContext) Phase {
	progress := rc.Progress()
	switch {
	case progress < 0.25 || rc.SearchCount == 0:
		return PhaseDiscovery
	case progress < 0.60 && rc.SourceCount < 3:
		return PhaseInvestigation
	case rc.SourceCount >= 2 && rc.ValidatedCount == 0 && progress < 0.75:
		return PhaseValidation
	case progress >= 0.60 || rc.HasFindings:
		return PhaseSynthesis
	default:
		return PhaseInvestigation
	}
}

// LoopInfo describes a detected repetition pattern in recent tool calls
type LoopInfo struct {
	IsLooping bool
	Tools     []string
}

// DetectToolLoop flags repetition: when the last loopWindow calls used at
// most two distinct tools, the model is stuck cycling.
func DetectToolLoop(history []domain.ToolCallRecord) LoopInfo {
	if len(history) < loopWindow {
		return LoopInfo{}
	}

	recent := history[len(history)-loopWindow:]
	distinct := make(map[string]struct{})
	for _, rec := range recent {
		distinct[rec.Tool] = struct{}{}
	}
	if len(distinct) > loopDistinctMax {
		return LoopInfo{}
	}

	tools := make([]string, 0, len(distinct))
	for tool := range distinct {
		tools = append(tools, tool)
	}
	return LoopInfo{IsLooping: true, Tools: tools}
}

// BlockedTools returns tools used at least overuseThreshold times in the
// last overuseWindow calls, excluding the exempt set.
func BlockedTools(history []domain.ToolCallRecord) []string {
	start := len(history) - overuseWindow
	if start < 0 {
		start = 0
	}

	counts := make(map[string]int)
	for _, rec := range history[start:] {
		counts[rec.Tool]++
	}

	var blocked []string
	for tool, n := range counts {
		if _, exempt := overuseExempt[tool]; exempt {
			continue
		}
		if n >= overuseThreshold {
			blocked = append(blocked, tool)
		}
	}
	return blocked
}

// Select picks the next-tool suggestion for a model turn. Rules are applied
// in a fixed precedence order and the first match wins.
func Select(rc domain.ResearchContext) Suggestion {
	phase := DetectPhase(rc)
	blocked := BlockedTools(rc.ToolHistory)
	remaining := rc.MaxIterations - rc.Iteration

	// 1: the first turn always starts with explicit reasoning
	if rc.Iteration <= 1 {
		return Suggestion{
			Type:   SuggestionRequired,
			Tool:   domain.ToolReason,
			Reason: "start by reasoning about what this step needs",
			Phase:  phase, Blocked: blocked,
		}
	}

	// 2: break detected loops with a targeted alternative
	if loop := DetectToolLoop(rc.ToolHistory); loop.IsLooping {
		if s, ok := loopBreaker(loop, phase, blocked); ok {
			return s
		}
	}

	// 3: running out of budget with nothing written forces writing
	if remaining <= 2 && !rc.HasFindings {
		return Suggestion{
			Type:   SuggestionRequired,
			Tool:   domain.ToolWriteFindings,
			Reason: "few iterations remain and no findings are written yet",
			Phase:  phase, Blocked: blocked,
		}
	}

	// 4: last iteration wraps up
	if remaining == 1 {
		if !rc.HasFindings {
			return Suggestion{
				Type:   SuggestionRequired,
				Tool:   domain.ToolWriteFindings,
				Reason: "final iteration; findings must be written",
				Phase:  phase, Blocked: blocked,
			}
		}
		return Suggestion{
			Type:   SuggestionSuggested,
			Tool:   domain.ToolSelfEvaluate,
			Reason: "final iteration; evaluate whether the findings are sufficient",
			Phase:  phase, Blocked: blocked,
		}
	}

	// 5: quality metrics drive corrective suggestions
	if s, ok := qualitySuggestion(rc, phase, blocked); ok {
		return s
	}

	// 6: step text hints
	if s, ok := stepTextSuggestion(rc, phase, blocked); ok {
		return s
	}

	// 7: phase default
	preferred := phasePreferredTools[phase]
	if tool := firstAllowed(preferred, blocked); tool != "" {
		return Suggestion{
			Type:         SuggestionSuggested,
			Tool:         tool,
			Reason:       "preferred tool for the " + string(phase) + " phase",
			Alternatives: preferred,
			Phase:        phase, Blocked: blocked,
		}
	}

	// 8: nothing binding, let the model choose
	return Suggestion{
		Type:         SuggestionAuto,
		Reason:       "no constraint applies",
		Alternatives: preferred,
		Phase:        phase, Blocked: blocked,
	}
}

func loopBreaker(loop LoopInfo, phase Phase, blocked []string) (Suggestion, bool) {
	set := make(map[string]struct{}, len(loop.Tools))
	for _, tool := range loop.Tools {
		set[tool] = struct{}{}
	}

	_, hasSearch := set[domain.ToolWebSearch]
	_, hasReason := set[domain.ToolReason]
	if hasSearch && hasReason {
		return Suggestion{
			Type:         SuggestionSuggested,
			Tool:         domain.ToolBrowsePage,
			Reason:       "alternating search and reasoning without progress; go deeper on a found source or write findings",
			Alternatives: []string{domain.ToolWriteFindings},
			Phase:        phase, Blocked: blocked,
		}, true
	}
	if _, hasBrowse := set[domain.ToolBrowsePage]; hasBrowse {
		return Suggestion{
			Type:   SuggestionSuggested,
			Tool:   domain.ToolWriteFindings,
			Reason: "repeated page browsing; consolidate what was read into findings",
			Phase:  phase, Blocked: blocked,
		}, true
	}
	return Suggestion{
		Type:   SuggestionSuggested,
		Tool:   domain.ToolReason,
		Reason: "tool usage is repetitive; step back and reassess the approach",
		Phase:  phase, Blocked: blocked,
	}, true
}

func qualitySuggestion(rc domain.ResearchContext, phase Phase, blocked []string) (Suggestion, bool) {
	q := rc.Quality
	if q.SourceDiversity > 0 && q.SourceDiversity < 2.5 {
		return Suggestion{
			Type:   SuggestionSuggested,
			Tool:   domain.ToolWebSearch,
			Reason: "source diversity is low; search for additional independent sources",
			Phase:  phase, Blocked: blocked,
		}, true
	}
	if q.FactVerification > 0 && q.FactVerification < 2.5 {
		return Suggestion{
			Type:   SuggestionSuggested,
			Tool:   domain.ToolValidateClaim,
			Reason: "key facts are unverified; validate the main claims",
			Phase:  phase, Blocked: blocked,
		}, true
	}
	if q.Average() >= 4 && rc.HasFindings {
		return Suggestion{
			Type:   SuggestionSuggested,
			Tool:   domain.ToolSelfEvaluate,
			Reason: "quality is high and findings exist; consider finishing",
			Phase:  phase, Blocked: blocked,
		}, true
	}
	return Suggestion{}, false
}

func stepTextSuggestion(rc domain.ResearchContext, phase Phase, blocked []string) (Suggestion, bool) {
	text := strings.ToLower(rc.StepText)

	if containsAny(text, "verify", "validate", "fact-check", "confirm") {
		return Suggestion{
			Type:   SuggestionSuggested,
			Tool:   domain.ToolValidateClaim,
			Reason: "the step asks for verification",
			Phase:  phase, Blocked: blocked,
		}, true
	}
	if containsAny(text, "comprehensive", "thorough", "detailed") && rc.SourceCount < 4 {
		return Suggestion{
			Type:   SuggestionSuggested,
			Tool:   domain.ToolWebSearch,
			Reason: "the step asks for comprehensive coverage and more sources are needed",
			Phase:  phase, Blocked: blocked,
		}, true
	}
	return Suggestion{}, false
}

func firstAllowed(tools, blocked []string) string {
	for _, tool := range tools {
		if !containsString(blocked, tool) {
			return tool
		}
	}
	return ""
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsAny(text string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// ToAPIToolChoice maps a suggestion to a chat API tool-choice constraint:
// required suggestions force the single tool, anything else passes through
// as auto. Softer suggestions only shape the prompt text.
func ToAPIToolChoice(s Suggestion) domain.ToolChoice {
	if s.Type == SuggestionRequired && s.Tool != "" {
		return domain.ToolChoice{Mode: domain.ToolChoiceForced, Tool: s.Tool}
	}
	return domain.ToolChoice{Mode: domain.ToolChoiceAuto}
}
