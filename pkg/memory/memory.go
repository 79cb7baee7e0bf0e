// Package memory is the per-task research cache: normalized search queries,
// fetched pages, topic confidence, and validated claims. One Memory instance
// is scoped to a single task execution and must be Reset between tasks; there
// is no cross-task sharing.
package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/researchpilot/orchestrator/pkg/authority"
	"github.com/researchpilot/orchestrator/pkg/domain"
)

const (
	// DefaultTTL is how long cached searches and pages stay valid
	DefaultTTL = 30 * time.Minute
	// DefaultOverlapThreshold is the token-overlap ratio above which two
	// queries are treated as near-duplicates
	DefaultOverlapThreshold = 0.7

	claimKeyLength   = 100
	maxRecentQueries = 5
)

// CachedSearch is one cached search result set, keyed by normalized query
type CachedSearch struct {
	Query     string                `json:"query"`
	Type      string                `json:"type,omitempty"`
	Results   []domain.SearchResult `json:"results"`
	Timestamp time.Time             `json:"timestamp"`
}

// CachedPage is one cached page fetch, keyed by exact URL
type CachedPage struct {
	URL       string               `json:"url"`
	Title     string               `json:"title,omitempty"`
	Content   string               `json:"content"`
	Authority *authority.Authority `json:"authority,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// TopicInfo tracks research depth for one topic. Confidence only ever
// increases when re-recorded; sources and key facts accumulate by set union.
type TopicInfo struct {
	Topic       string    `json:"topic"`
	Confidence  float64   `json:"confidence"` // 0-100
	Sources     []string  `json:"sources"`
	KeyFacts    []string  `json:"key_facts"`
	LastUpdated time.Time `json:"last_updated"`
}

// ClaimInfo records a validated claim and the sources that support it
type ClaimInfo struct {
	Claim       string    `json:"claim"`
	Sources     []string  `json:"sources"`
	ValidatedAt time.Time `json:"validated_at"`
}

// Options configures a Memory instance
type Options struct {
	TTL              time.Duration
	OverlapThreshold float64
	// Now overrides the clock, for tests
	Now func() time.Time
}

// Memory is a task-scoped research cache. It is safe for use by the single
// active step executor; it is not designed for concurrent writers from
// multiple tasks.
type Memory struct {
	mu               sync.Mutex
	ttl              time.Duration
	overlapThreshold float64
	now              func() time.Time

	searches     map[string]*CachedSearch
	pages        map[string]*CachedPage
	topics       map[string]*TopicInfo
	claims       map[string]*ClaimInfo
	seenURLs     map[string]struct{}
	queryHistory []string
}

// New creates a research memory with the given options
func New(opts *Options) *Memory {
	m := &Memory{
		ttl:              DefaultTTL,
		overlapThreshold: DefaultOverlapThreshold,
		now:              time.Now,
	}
	if opts != nil {
		if opts.TTL > 0 {
			m.ttl = opts.TTL
		}
		if opts.OverlapThreshold > 0 {
			m.overlapThreshold = opts.OverlapThreshold
		}
		if opts.Now != nil {
			m.now = opts.Now
		}
	}
	m.reset()
	return m
}

// Reset clears all cached state so the instance can serve a new task
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

func (m *Memory) reset() {
	m.searches = make(map[string]*CachedSearch)
	m.pages = make(map[string]*CachedPage)
	m.topics = make(map[string]*TopicInfo)
	m.claims = make(map[string]*ClaimInfo)
	m.seenURLs = make(map[string]struct{})
	m.queryHistory = nil
}

// NormalizeQuery canonicalizes a query for cache keying and overlap
// comparison: lowercase, punctuation stripped, short words dropped, tokens
// sorted.
func NormalizeQuery(query string) string {
	lowered := strings.ToLower(query)

	var b strings.Builder
	for _, r := range lowered {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == ' ' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	var tokens []string
	for _, tok := range strings.Fields(b.String()) {
		if len(tok) > 2 {
			tokens = append(tokens, tok)
		}
	}
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// QueryOverlap returns the token-set overlap of two queries in [0,1].
// Either side normalizing to nothing yields 0.
func QueryOverlap(a, b string) float64 {
	setA := tokenSet(NormalizeQuery(a))
	setB := tokenSet(NormalizeQuery(b))
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	shared := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			shared++
		}
	}

	union := len(setA) + len(setB) - shared
	return float64(shared) / float64(union)
}

func tokenSet(normalized string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(normalized) {
		set[tok] = struct{}{}
	}
	return set
}

// GetCachedSearch returns an unexpired cached result for query: an exact
// normalized-key hit first, otherwise the first unexpired entry whose overlap
// meets the threshold and whose type matches. Returns nil on miss.
func (m *Memory) GetCachedSearch(query, searchType string) *CachedSearch {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := NormalizeQuery(query)
	if entry, ok := m.searches[key]; ok && !m.expired(entry.Timestamp) && entry.Type == searchType {
		return entry
	}

	for _, entry := range m.searches {
		if m.expired(entry.Timestamp) || entry.Type != searchType {
			continue
		}
		if QueryOverlap(query, entry.Query) >= m.overlapThreshold {
			return entry
		}
	}
	return nil
}

// CacheSearch stores results under the normalized query key, records every
// result URL as seen, and appends the raw query to the history used for
// duplicate detection.
func (m *Memory) CacheSearch(query string, results []domain.SearchResult, searchType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.searches[NormalizeQuery(query)] = &CachedSearch{
		Query:     query,
		Type:      searchType,
		Results:   results,
		Timestamp: m.now(),
	}

	for _, r := range results {
		m.seenURLs[r.URL] = struct{}{}
	}
	m.queryHistory = append(m.queryHistory, query)
}

// IsDuplicateQuery reports whether query is a near-repeat: either an
// unexpired cache entry exists for it, or it overlaps any previously issued
// query above the threshold. This is stricter than cache lookup since it
// compares against the full raw query history.
func (m *Memory) IsDuplicateQuery(query string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := NormalizeQuery(query)
	if entry, ok := m.searches[key]; ok && !m.expired(entry.Timestamp) {
		return true
	}

	for _, past := range m.queryHistory {
		if QueryOverlap(query, past) >= m.overlapThreshold {
			return true
		}
	}
	return false
}

// GetCachedPage returns the unexpired cached page for url, or nil
func (m *Memory) GetCachedPage(url string) *CachedPage {
	m.mu.Lock()
	defer m.mu.Unlock()

	page, ok := m.pages[url]
	if !ok || m.expired(page.Timestamp) {
		return nil
	}
	return page
}

// CachePage stores a fetched page keyed by exact URL
func (m *Memory) CachePage(url, content, title string, auth *authority.Authority) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pages[url] = &CachedPage{
		URL:       url,
		Title:     title,
		Content:   content,
		Authority: auth,
		Timestamp: m.now(),
	}
	m.seenURLs[url] = struct{}{}
}

// RecordTopic merges new information about a topic: confidence by max,
// sources and key facts by set union.
func (m *Memory) RecordTopic(topic string, confidence float64, sources, keyFacts []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(strings.TrimSpace(topic))
	info, ok := m.topics[key]
	if !ok {
		info = &TopicInfo{Topic: topic}
		m.topics[key] = info
	}

	if confidence > info.Confidence {
		info.Confidence = confidence
	}
	info.Sources = mergeUnique(info.Sources, sources)
	info.KeyFacts = mergeUnique(info.KeyFacts, keyFacts)
	info.LastUpdated = m.now()
}

// IsTopicWellResearched reports whether a topic has reached the confidence
// and source thresholds.
func (m *Memory) IsTopicWellResearched(topic string, minConfidence float64, minSources int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.topics[strings.ToLower(strings.TrimSpace(topic))]
	if !ok {
		return false
	}
	return info.Confidence >= minConfidence && len(info.Sources) >= minSources
}

// RecordValidatedClaim marks a claim as validated by a source. Claims are
// keyed by their lowercased first 100 characters.
func (m *Memory) RecordValidatedClaim(claim, source string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := claimKey(claim)
	info, ok := m.claims[key]
	if !ok {
		info = &ClaimInfo{Claim: claim}
		m.claims[key] = info
	}
	info.Sources = mergeUnique(info.Sources, []string{source})
	info.ValidatedAt = m.now()
}

// HasValidatedClaim reports whether a claim has been validated
func (m *Memory) HasValidatedClaim(claim string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.claims[claimKey(claim)]
	return ok
}

// GetValidationInfo returns the validation record for a claim, or nil
func (m *Memory) GetValidationInfo(claim string) *ClaimInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.claims[claimKey(claim)]
}

// ValidatedClaimCount returns the number of distinct validated claims
func (m *Memory) ValidatedClaimCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.claims)
}

// SearchCount returns the number of searches issued so far
func (m *Memory) SearchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queryHistory)
}

// SeenURLCount returns the number of distinct URLs observed in results
func (m *Memory) SeenURLCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seenURLs)
}

// HasSeenURL reports whether a URL appeared in any earlier search or fetch
func (m *Memory) HasSeenURL(url string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seenURLs[url]
	return ok
}

// ContextString produces a prompt-injectable summary of research state:
// counts, well-researched topics, topics with low confidence, and the last
// few raw queries. This is how the model is told what not to repeat.
func (m *Memory) ContextString() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Research state: %d searches issued, %d unique sources seen, %d claims validated.\n",
		len(m.queryHistory), len(m.seenURLs), len(m.claims))

	var covered, gaps []string
	for _, info := range m.topics {
		if info.Confidence >= 70 && len(info.Sources) >= 2 {
			covered = append(covered, info.Topic)
		} else {
			gaps = append(gaps, info.Topic)
		}
	}
	sort.Strings(covered)
	sort.Strings(gaps)

	if len(covered) > 0 {
		fmt.Fprintf(&b, "Well-researched topics (do not re-search): %s\n", strings.Join(covered, "; "))
	}
	if len(gaps) > 0 {
		fmt.Fprintf(&b, "Topics needing more depth: %s\n", strings.Join(gaps, "; "))
	}

	if len(m.queryHistory) > 0 {
		start := len(m.queryHistory) - maxRecentQueries
		if start < 0 {
			start = 0
		}
		fmt.Fprintf(&b, "Recent queries (avoid near-duplicates): %s\n",
			strings.Join(m.queryHistory[start:], " | "))
	}

	return b.String()
}

func (m *Memory) expired(ts time.Time) bool {
	return m.now().Sub(ts) > m.ttl
}

func claimKey(claim string) string {
	key := strings.ToLower(strings.TrimSpace(claim))
	if len(key) > claimKeyLength {
		key = key[:claimKeyLength]
	}
	return key
}

func mergeUnique(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, v := range existing {
		seen[v] = struct{}{}
	}
	for _, v := range incoming {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; !ok {
			existing = append(existing, v)
			seen[v] = struct{}{}
		}
	}
	return existing
}
