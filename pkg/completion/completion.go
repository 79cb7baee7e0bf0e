// Package completion derives per-step completion criteria from step text,
// scores research progress against them, and decides when a step's tool loop
// should stop.
package completion

import (
	"fmt"
	"math"
	"strings"

	"github.com/researchpilot/orchestrator/pkg/domain"
)

// Criteria are the thresholds a step's research must meet
type Criteria struct {
	MinSources              int
	MinHighAuthoritySources int
	MinValidatedClaims      int
	MinFindingsLength       int
	MinQualityScore         float64
	RequiresValidation      bool
}

// BaseCriteria is the starting point before keyword adjustments
func BaseCriteria() Criteria {
	return Criteria{
		MinSources:              3,
		MinHighAuthoritySources: 1,
		MinValidatedClaims:      0,
		MinFindingsLength:       500,
		MinQualityScore:         3.0,
		RequiresValidation:      false,
	}
}

// keywordAdjustment mutates criteria when any of its keywords appears in the
// step text. Adjustments compose: each only raises or lowers the fields it
// names, so multiple matching groups stack.
type keywordAdjustment struct {
	keywords []string
	apply    func(*Criteria)
}

var adjustments = []keywordAdjustment{
	{
		keywords: []string{"comprehensive", "thorough", "detailed"},
		apply: func(c *Criteria) {
			raiseInt(&c.MinSources, 5)
			raiseInt(&c.MinHighAuthoritySources, 2)
			raiseInt(&c.MinFindingsLength, 800)
			raiseFloat(&c.MinQualityScore, 3.5)
		},
	},
	{
		keywords: []string{"verify", "validate", "fact-check", "confirm"},
		apply: func(c *Criteria) {
			c.RequiresValidation = true
			raiseInt(&c.MinValidatedClaims, 2)
			raiseFloat(&c.MinQualityScore, 3.5)
		},
	},
	{
		keywords: []string{"compare", "contrast", " vs ", " vs."},
		apply: func(c *Criteria) {
			raiseInt(&c.MinSources, 4)
			raiseInt(&c.MinHighAuthoritySources, 2)
		},
	},
	{
		keywords: []string{"brief", "quick", "summary"},
		apply: func(c *Criteria) {
			lowerInt(&c.MinSources, 2)
			lowerInt(&c.MinHighAuthoritySources, 1)
			lowerInt(&c.MinFindingsLength, 300)
			lowerFloat(&c.MinQualityScore, 2.5)
		},
	},
	{
		keywords: []string{"research", "investigate", "analyze"},
		apply: func(c *Criteria) {
			raiseInt(&c.MinSources, 4)
			raiseInt(&c.MinFindingsLength, 600)
		},
	},
	{
		keywords: []string{"important", "critical", "essential"},
		apply: func(c *Criteria) {
			raiseInt(&c.MinHighAuthoritySources, 2)
			raiseFloat(&c.MinQualityScore, 4.0)
			c.RequiresValidation = true
			raiseInt(&c.MinValidatedClaims, 1)
		},
	},
}

// DeriveCriteria builds completion criteria for a step from its text
func DeriveCriteria(stepText string) Criteria {
	c := BaseCriteria()
	text := strings.ToLower(stepText)

	for _, adj := range adjustments {
		for _, kw := range adj.keywords {
			if strings.Contains(text, kw) {
				adj.apply(&c)
				break
			}
		}
	}
	return c
}

// Status is the outcome of scoring progress against criteria
type Status struct {
	IsComplete       bool
	Score            int // 0-100
	MissingCriteria  []string
	Recommendations  []string
	CanForceComplete bool
}

// CheckCompletion scores progress against criteria. Each criterion counts
// equally toward the score; the validated-claims criterion only applies when
// the criteria require validation. Completion additionally requires that
// findings were actually written, independent of the numeric score.
func CheckCompletion(p domain.ResearchProgress, c Criteria) Status {
	type check struct {
		met            bool
		missing        string
		recommendation string
	}

	checks := []check{
		{
			met:            p.SourceCount >= c.MinSources,
			missing:        fmt.Sprintf("sources: %d of %d", p.SourceCount, c.MinSources),
			recommendation: "search for additional sources",
		},
		{
			met:            p.HighAuthority >= c.MinHighAuthoritySources,
			missing:        fmt.Sprintf("high-authority sources: %d of %d", p.HighAuthority, c.MinHighAuthoritySources),
			recommendation: "prefer government, academic, or major journal sources",
		},
		{
			met:            p.FindingsLength >= c.MinFindingsLength,
			missing:        fmt.Sprintf("findings length: %d of %d", p.FindingsLength, c.MinFindingsLength),
			recommendation: "expand the written findings",
		},
		{
			met:            p.Quality.Average() >= c.MinQualityScore,
			missing:        fmt.Sprintf("quality score: %.1f of %.1f", p.Quality.Average(), c.MinQualityScore),
			recommendation: "improve source diversity and verification",
		},
	}
	if c.RequiresValidation {
		checks = append(checks, check{
			met:            p.ValidatedCount >= c.MinValidatedClaims,
			missing:        fmt.Sprintf("validated claims: %d of %d", p.ValidatedCount, c.MinValidatedClaims),
			recommendation: "validate the key claims against independent sources",
		})
	}

	var status Status
	met := 0
	for _, ch := range checks {
		if ch.met {
			met++
			continue
		}
		status.MissingCriteria = append(status.MissingCriteria, ch.missing)
		status.Recommendations = append(status.Recommendations, ch.recommendation)
	}

	status.Score = met * 100 / len(checks)
	status.IsComplete = len(status.MissingCriteria) == 0 && p.HasWrittenFindings
	status.CanForceComplete = status.Score >= 60 && p.HasWrittenFindings
	return status
}

// Decision is the continue/stop verdict for a step's tool loop
type Decision struct {
	Continue bool
	Forced   bool
	Reason   string
}

// ShouldContinue decides whether the tool loop runs another iteration. The
// check order matters: the iteration ceiling overrides everything below it,
// including a low completion score.
func ShouldContinue(p domain.ResearchProgress, c Criteria, iteration, maxIterations int) Decision {
	status := CheckCompletion(p, c)
	remaining := maxIterations - iteration

	if status.IsComplete {
		return Decision{Continue: false, Reason: "all completion criteria met"}
	}
	if p.SelfEvaluation == "complete" && p.HasWrittenFindings {
		return Decision{Continue: false, Reason: "self-evaluation recommended completion"}
	}
	if iteration >= maxIterations-1 {
		return Decision{Continue: false, Forced: true, Reason: "iteration budget exhausted"}
	}
	if status.Score < 50 && remaining >= 2 {
		return Decision{Continue: true, Reason: "completion score is low with budget remaining"}
	}
	if status.CanForceComplete && remaining <= 3 {
		return Decision{Continue: false, Reason: "acceptable completion with little budget left"}
	}
	return Decision{Continue: true, Reason: "criteria not yet met"}
}

const (
	minIterationBudget = 4
	maxIterationBudget = 15
)

// AdjustIterationLimit tunes the iteration budget for a step: stricter
// criteria earn extra iterations, already-high completion trims one. The
// result is clamped to [4, 15].
func AdjustIterationLimit(base int, c Criteria, currentScore int) int {
	limit := base
	if c.MinSources >= 5 || c.MinQualityScore >= 4 {
		limit += 2
	}
	if currentScore >= 80 {
		limit--
	}
	if limit < minIterationBudget {
		limit = minIterationBudget
	}
	if limit > maxIterationBudget {
		limit = maxIterationBudget
	}
	return limit
}

// EstimateRemainingIterations guesses how many more iterations the step
// needs, for progress reporting.
func EstimateRemainingIterations(p domain.ResearchProgress, c Criteria) int {
	status := CheckCompletion(p, c)
	if status.IsComplete {
		return 0
	}

	missing := len(status.MissingCriteria)
	if !p.HasWrittenFindings {
		return maxInt(2, missing)
	}
	if c.RequiresValidation && p.ValidatedCount == 0 {
		return maxInt(2, missing)
	}
	return maxInt(1, int(math.Ceil(float64(missing)*0.75)))
}

func raiseInt(field *int, to int) {
	if to > *field {
		*field = to
	}
}

func lowerInt(field *int, to int) {
	if to < *field {
		*field = to
	}
}

func raiseFloat(field *float64, to float64) {
	if to > *field {
		*field = to
	}
}

func lowerFloat(field *float64, to float64) {
	if to < *field {
		*field = to
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
