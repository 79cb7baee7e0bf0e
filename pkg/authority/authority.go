// Package authority scores a URL's trustworthiness from static domain tables,
// TLD heuristics, and hostname/path pattern fallbacks. Scoring is a pure
// function: the same URL always yields the same result, and malformed input
// degrades to a neutral unknown score instead of an error.
package authority

import (
	"net/url"
	"strings"
)

// Tier is the coarse trust bucket derived from a score
type Tier string

const (
	TierHigh    Tier = "high"
	TierMedium  Tier = "medium"
	TierLow     Tier = "low"
	TierUnknown Tier = "unknown"
)

// Authority is the derived trust assessment for one URL
type Authority struct {
	Score    int      `json:"score"` // 0-100
	Tier     Tier     `json:"tier"`
	Category string   `json:"category"`
	Flags    []string `json:"flags,omitempty"`
}

// unknownAuthority is returned for URLs that cannot be parsed
var unknownAuthority = Authority{Score: 40, Tier: TierUnknown, Category: "unknown"}

const (
	defaultBaseScore = 50
	defaultMinScore  = 20
	defaultMaxScore  = 75
	highTierFloor    = 80
	mediumTierFloor  = 60
)

// Score assesses the trustworthiness of rawURL. It never returns an error:
// unparseable input yields the neutral unknown assessment.
func Score(rawURL string) Authority {
	host, path, ok := splitURL(rawURL)
	if !ok {
		return unknownAuthority
	}

	if entry, tier, ok := lookupDomain(host); ok {
		return Authority{
			Score:    entry.Score,
			Tier:     tier,
			Category: entry.Category,
			Flags:    append([]string(nil), entry.Flags...),
		}
	}

	if score, ok := tldScores[extractTLD(host)]; ok {
		return Authority{
			Score:    score,
			Tier:     tierForScore(score),
			Category: categoryForTLD(extractTLD(host)),
		}
	}

	return scoreByHeuristics(host, path)
}

// splitURL normalizes the input into hostname (www-stripped, lowercased) and
// path. A scheme-less input like "example.com/page" is still accepted.
func splitURL(rawURL string) (host, path string, ok bool) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", "", false
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", "", false
	}

	host = strings.ToLower(parsed.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if host == "" || !strings.Contains(host, ".") {
		return "", "", false
	}

	return host, strings.ToLower(parsed.Path), true
}

// lookupDomain resolves host against the three static tables. Candidates are
// tried most-specific first: the host itself, then each parent domain down to
// the registrable suffix, so an exact entry always wins over a broader one
// (pubmed.ncbi.nlm.nih.gov before nih.gov) and the result never depends on
// map iteration order.
func lookupDomain(host string) (domainEntry, Tier, bool) {
	tables := []struct {
		entries map[string]domainEntry
		tier    Tier
	}{
		{highAuthorityDomains, TierHigh},
		{mediumAuthorityDomains, TierMedium},
		{lowAuthorityDomains, TierLow},
	}

	labels := strings.Split(host, ".")
	for i := 0; i < len(labels)-1; i++ {
		candidate := strings.Join(labels[i:], ".")
		for _, table := range tables {
			if entry, ok := table.entries[candidate]; ok {
				return entry, table.tier, true
			}
		}
	}
	return domainEntry{}, TierUnknown, false
}

// extractTLD returns the public suffix of host, keeping compound suffixes
// like co.uk whole.
func extractTLD(host string) string {
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return host
	}
	if len(labels) >= 2 {
		compound := labels[len(labels)-2] + "." + labels[len(labels)-1]
		if _, ok := compoundTLDs[compound]; ok {
			return compound
		}
	}
	return labels[len(labels)-1]
}

// scoreByHeuristics computes the fallback score for hosts not covered by any
// table: base 50, adjusted by hostname and path substrings, clamped to
// [20,75], with the tier derived from the clamped score.
func scoreByHeuristics(host, path string) Authority {
	score := defaultBaseScore
	var flags []string

	for _, h := range defaultHostHeuristics {
		if !strings.Contains(host, h.Contains) {
			continue
		}
		if excluded(host, h.Except) {
			continue
		}
		score += h.Delta
		if h.Flag != "" {
			flags = appendFlag(flags, h.Flag)
		}
	}

	for _, h := range defaultPathHeuristics {
		if strings.Contains(path, h.Contains) {
			score += h.Delta
			if h.Flag != "" {
				flags = appendFlag(flags, h.Flag)
			}
		}
	}

	if score < defaultMinScore {
		score = defaultMinScore
	}
	if score > defaultMaxScore {
		score = defaultMaxScore
	}

	tier := TierLow
	if score >= 70 {
		tier = TierMedium
	}

	return Authority{Score: score, Tier: tier, Category: "general", Flags: flags}
}

func excluded(host string, except []string) bool {
	for _, e := range except {
		if strings.Contains(host, e) {
			return true
		}
	}
	return false
}

func appendFlag(flags []string, flag string) []string {
	for _, f := range flags {
		if f == flag {
			return flags
		}
	}
	return append(flags, flag)
}

func tierForScore(score int) Tier {
	switch {
	case score >= highTierFloor:
		return TierHigh
	case score >= mediumTierFloor:
		return TierMedium
	default:
		return TierLow
	}
}

func categoryForTLD(tld string) string {
	switch tld {
	case "gov", "mil", "gov.uk", "gov.au", "gc.ca":
		return "government"
	case "edu", "ac.uk", "edu.au":
		return "academic"
	case "int":
		return "government"
	case "org":
		return "organization"
	default:
		return "general"
	}
}
