package search

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearchParsesResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "fusion energy" {
			t.Errorf("query = %q", got)
		}
		fmt.Fprint(w, `{"results":[
			{"title":"Fusion overview","url":"https://energy.gov/fusion","content":"summary one"},
			{"title":"ITER progress","url":"https://nature.com/iter","content":"summary two"}
		]}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	resp, err := client.Search(context.Background(), "fusion energy")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(resp.Results))
	}
	if resp.Results[0].URL != "https://energy.gov/fusion" {
		t.Errorf("first result = %+v", resp.Results[0])
	}
}

func TestSearchEmptyResultsIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[]}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	resp, err := client.Search(context.Background(), "no hits for this")
	if err != nil {
		t.Fatalf("empty results must not be an error: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("got %d results, want 0", len(resp.Results))
	}
}

func TestSearchCapsResultCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[`)
		for i := 0; i < 10; i++ {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"title":"r%d","url":"https://example.org/%d","content":""}`, i, i)
		}
		fmt.Fprint(w, `]}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, &Options{MaxResults: 3})
	resp, err := client.Search(context.Background(), "many results")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Errorf("got %d results, want 3", len(resp.Results))
	}
}

func TestSearchTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	if _, err := client.Search(context.Background(), "anything"); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestFetcherReadsPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "page body content")
	}))
	defer server.Close()

	fetcher := NewFetcher(0)
	page, err := fetcher.Fetch(context.Background(), server.URL+"/article")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if page.Content != "page body content" {
		t.Errorf("Content = %q", page.Content)
	}
}

func TestFetcherNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	fetcher := NewFetcher(0)
	if _, err := fetcher.Fetch(context.Background(), server.URL+"/missing"); err == nil {
		t.Fatal("expected error for missing page")
	}
}
