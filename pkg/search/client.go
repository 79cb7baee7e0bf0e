// Package search implements the web-search and page-fetch collaborators
// against a SearXNG-style JSON search API.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/researchpilot/orchestrator/pkg/domain"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxResults = 8
	maxPageContent    = 20000
)

// Client is a search provider backed by a JSON search endpoint. Empty result
// sets are returned as-is; only transport and decode failures are errors.
type Client struct {
	baseURL    string
	maxResults int
	httpClient *http.Client
}

// Options configures the search client
type Options struct {
	MaxResults int
	Timeout    time.Duration
}

// NewClient creates a search client for the given endpoint
func NewClient(baseURL string, opts *Options) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxResults: defaultMaxResults,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	if opts != nil {
		if opts.MaxResults > 0 {
			c.maxResults = opts.MaxResults
		}
		if opts.Timeout > 0 {
			c.httpClient.Timeout = opts.Timeout
		}
	}
	return c
}

type searchAPIResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search issues a query and returns up to maxResults hits
func (c *Client) Search(ctx context.Context, query string) (*domain.SearchResponse, error) {
	endpoint := fmt.Sprintf("%s/search?q=%s&format=json", c.baseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("search provider returned status %d: %s", resp.StatusCode, string(body))
	}

	var apiResp searchAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	out := &domain.SearchResponse{}
	for _, r := range apiResp.Results {
		if len(out.Results) >= c.maxResults {
			break
		}
		out.Results = append(out.Results, domain.SearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Content,
		})
	}
	return out, nil
}

// Fetcher loads page content over plain HTTP
type Fetcher struct {
	httpClient *http.Client
}

// NewFetcher creates a page fetcher
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Fetcher{httpClient: &http.Client{Timeout: timeout}}
}

// Fetch retrieves a page and returns its content, truncated to a bound that
// keeps prompts manageable.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*domain.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "research-orchestrator/0.1")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("page fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("page not found: %s", pageURL)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("page fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageContent))
	if err != nil {
		return nil, fmt.Errorf("failed to read page body: %w", err)
	}

	return &domain.Page{
		URL:     pageURL,
		Content: string(body),
	}, nil
}
