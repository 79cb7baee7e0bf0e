package completion

import (
	"testing"

	"github.com/researchpilot/orchestrator/pkg/domain"
)

func metProgress() domain.ResearchProgress {
	return domain.ResearchProgress{
		SourceCount:        5,
		HighAuthority:      2,
		ValidatedCount:     3,
		FindingsLength:     1000,
		HasWrittenFindings: true,
		Quality:            domain.QualityMetrics{SourceDiversity: 4, FactVerification: 4, DepthOfAnalysis: 4, SourceRecency: 4},
	}
}

func TestDeriveCriteriaBase(t *testing.T) {
	c := DeriveCriteria("look into the topic")
	want := Criteria{MinSources: 3, MinHighAuthoritySources: 1, MinFindingsLength: 500, MinQualityScore: 3.0}
	if c != want {
		t.Errorf("base criteria = %+v, want %+v", c, want)
	}
}

func TestDeriveCriteriaKeywords(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Criteria
	}{
		{
			name: "comprehensive raises depth thresholds",
			text: "Write a comprehensive overview of fusion energy",
			want: Criteria{MinSources: 5, MinHighAuthoritySources: 2, MinFindingsLength: 800, MinQualityScore: 3.5},
		},
		{
			name: "verify requires validation",
			text: "Verify the published mortality figures",
			want: Criteria{MinSources: 3, MinHighAuthoritySources: 1, MinValidatedClaims: 2, MinFindingsLength: 500, MinQualityScore: 3.5, RequiresValidation: true},
		},
		{
			name: "research raises sources to 4",
			text: "Research the latest developments in quantum computing",
			want: Criteria{MinSources: 4, MinHighAuthoritySources: 1, MinFindingsLength: 600, MinQualityScore: 3.0},
		},
		{
			name: "brief lowers thresholds",
			text: "Give a brief summary of the situation",
			want: Criteria{MinSources: 2, MinHighAuthoritySources: 1, MinFindingsLength: 300, MinQualityScore: 2.5},
		},
		{
			name: "critical raises quality and requires validation",
			text: "This is a critical claim to check",
			want: Criteria{MinSources: 3, MinHighAuthoritySources: 2, MinValidatedClaims: 1, MinFindingsLength: 500, MinQualityScore: 4.0, RequiresValidation: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveCriteria(tt.text); got != tt.want {
				t.Errorf("DeriveCriteria(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}

func TestDeriveCriteriaKeywordsCompose(t *testing.T) {
	c := DeriveCriteria("Conduct comprehensive research and verify the key claims")
	// comprehensive: 5/2/800/3.5; research: max(5,4)=5, max(800,600)=800;
	// verify: validation, 2 claims, quality stays 3.5
	want := Criteria{
		MinSources:              5,
		MinHighAuthoritySources: 2,
		MinValidatedClaims:      2,
		MinFindingsLength:       800,
		MinQualityScore:         3.5,
		RequiresValidation:      true,
	}
	if c != want {
		t.Errorf("composed criteria = %+v, want %+v", c, want)
	}
}

func TestCheckCompletionAllMet(t *testing.T) {
	c := DeriveCriteria("Verify the comprehensive analysis")
	status := CheckCompletion(metProgress(), c)
	if !status.IsComplete {
		t.Errorf("expected complete, missing %v", status.MissingCriteria)
	}
	if status.Score != 100 {
		t.Errorf("Score = %d, want 100", status.Score)
	}
}

func TestCheckCompletionFindingsGate(t *testing.T) {
	p := metProgress()
	p.HasWrittenFindings = false
	p.FindingsLength = 0

	status := CheckCompletion(p, BaseCriteria())
	if status.IsComplete {
		t.Error("no written findings must never be complete")
	}
	if status.CanForceComplete {
		t.Error("cannot force-complete without findings")
	}
}

func TestCheckCompletionValidationOnlyCountsWhenRequired(t *testing.T) {
	p := metProgress()
	p.ValidatedCount = 0

	plain := BaseCriteria()
	if status := CheckCompletion(p, plain); !status.IsComplete {
		t.Errorf("validation should not count without the requirement, missing %v", status.MissingCriteria)
	}

	strict := plain
	strict.RequiresValidation = true
	strict.MinValidatedClaims = 2
	status := CheckCompletion(p, strict)
	if status.IsComplete {
		t.Error("missing validated claims should block completion")
	}
	if status.Score != 80 {
		t.Errorf("Score = %d, want 80 (4 of 5 criteria)", status.Score)
	}
}

func TestShouldContinueStopsWhenComplete(t *testing.T) {
	d := ShouldContinue(metProgress(), BaseCriteria(), 3, 10)
	if d.Continue {
		t.Error("complete progress should stop")
	}
}

func TestShouldContinueForcedStopAtCeiling(t *testing.T) {
	// empty progress scores low, but the ceiling overrides
	p := domain.ResearchProgress{}
	d := ShouldContinue(p, BaseCriteria(), 9, 10)
	if d.Continue {
		t.Error("iteration ceiling must force a stop")
	}
	if !d.Forced {
		t.Error("ceiling stop should be marked forced")
	}
}

func TestShouldContinueSelfEvaluation(t *testing.T) {
	p := domain.ResearchProgress{
		HasWrittenFindings: true,
		FindingsLength:     200,
		SelfEvaluation:     "complete",
	}
	d := ShouldContinue(p, BaseCriteria(), 3, 10)
	if d.Continue {
		t.Error("self-evaluation verdict with findings should stop")
	}

	p.HasWrittenFindings = false
	d = ShouldContinue(p, BaseCriteria(), 3, 10)
	if !d.Continue {
		t.Error("self-evaluation without findings must not stop")
	}
}

func TestShouldContinueLowScoreWithBudget(t *testing.T) {
	p := domain.ResearchProgress{SourceCount: 1}
	d := ShouldContinue(p, BaseCriteria(), 3, 10)
	if !d.Continue {
		t.Error("low score with budget remaining should continue")
	}
}

func TestShouldContinueForceCompleteNearEnd(t *testing.T) {
	// most criteria met, findings written, 3 iterations left
	p := metProgress()
	p.SourceCount = 1 // one criterion missing keeps IsComplete false
	d := ShouldContinue(p, BaseCriteria(), 7, 10)
	if d.Continue {
		t.Error("force-completable progress near the end should stop")
	}
}

func TestAdjustIterationLimit(t *testing.T) {
	base := 8

	strict := Criteria{MinSources: 5}
	if got := AdjustIterationLimit(base, strict, 0); got != 10 {
		t.Errorf("strict criteria: got %d, want 10", got)
	}

	if got := AdjustIterationLimit(base, BaseCriteria(), 85); got != 7 {
		t.Errorf("high completion: got %d, want 7", got)
	}

	if got := AdjustIterationLimit(2, BaseCriteria(), 90); got != 4 {
		t.Errorf("lower clamp: got %d, want 4", got)
	}
	if got := AdjustIterationLimit(20, strict, 0); got != 15 {
		t.Errorf("upper clamp: got %d, want 15", got)
	}
}

func TestEstimateRemainingIterations(t *testing.T) {
	if got := EstimateRemainingIterations(metProgress(), BaseCriteria()); got != 0 {
		t.Errorf("complete progress: got %d, want 0", got)
	}

	empty := domain.ResearchProgress{}
	if got := EstimateRemainingIterations(empty, BaseCriteria()); got < 2 {
		t.Errorf("no findings: got %d, want >= 2", got)
	}

	// findings written, one criterion missing: ceil(1 * 0.75) = 1
	p := metProgress()
	p.SourceCount = 1
	if got := EstimateRemainingIterations(p, BaseCriteria()); got != 1 {
		t.Errorf("one missing criterion: got %d, want 1", got)
	}
}
