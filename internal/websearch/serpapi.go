// Package websearch provides the SerpAPI-backed web search fallback used
// when neither documents nor sheets produce enough context.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DefaultEndpoint is the SerpAPI search URL.
const DefaultEndpoint = "https://serpapi.com/search"

// MaxResults caps how many results a search returns regardless of what the
// API sends back.
const MaxResults = 5

// Result is a single web search hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"` // organic, answer_box, knowledge_graph
}

// Searcher performs web searches.
type Searcher interface {
	Search(ctx context.Context, query string, numResults int) ([]Result, error)
}

// SerpAPIClient implements Searcher against SerpAPI's Google engine.
type SerpAPIClient struct {
	endpoint string
	apiKey   string
	country  string
	language string
	client   *http.Client
}

// Config configures the SerpAPI client.
type Config struct {
	Endpoint string
	APIKey   string
	Country  string // Google gl parameter, default "lk"
	Language string // Google hl parameter, default "en"
	Timeout  time.Duration
}

// NewSerpAPIClient creates a SerpAPI search client.
func NewSerpAPIClient(cfg Config) *SerpAPIClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Country == "" {
		cfg.Country = "lk"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &SerpAPIClient{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		country:  cfg.Country,
		language: cfg.Language,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

// Available reports whether an API key is configured.
func (c *SerpAPIClient) Available() bool {
	return c.apiKey != ""
}

// serpResponse is the subset of the SerpAPI payload we consume.
type serpResponse struct {
	AnswerBox struct {
		Title   string `json:"title"`
		Answer  string `json:"answer"`
		Snippet string `json:"snippet"`
		Link    string `json:"link"`
	} `json:"answer_box"`
	KnowledgeGraph struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Website     string `json:"website"`
	} `json:"knowledge_graph"`
	OrganicResults []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic_results"`
	Error string `json:"error"`
}

// Search queries Google through SerpAPI. Direct-answer blocks (knowledge
// graph, answer box) are merged ahead of organic results so the most
// authoritative snippet lands first. Results are capped at the smaller of
// numResults and MaxResults.
func (c *SerpAPIClient) Search(ctx context.Context, query string, numResults int) ([]Result, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("SerpAPI key not configured")
	}
	if numResults <= 0 || numResults > MaxResults {
		numResults = MaxResults
	}

	q := url.Values{}
	q.Set("engine", "google")
	q.Set("q", query)
	q.Set("api_key", c.apiKey)
	q.Set("hl", c.language)
	q.Set("gl", c.country)
	q.Set("num", fmt.Sprintf("%d", numResults))

	req, err := http.NewRequestWithContext(ctx, "GET", c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search error (status %d)", resp.StatusCode)
	}

	var sr serpResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if sr.Error != "" {
		return nil, fmt.Errorf("search error: %s", sr.Error)
	}

	var results []Result

	if sr.KnowledgeGraph.Title != "" && sr.KnowledgeGraph.Description != "" {
		results = append(results, Result{
			Title:   sr.KnowledgeGraph.Title,
			Link:    sr.KnowledgeGraph.Website,
			Snippet: sr.KnowledgeGraph.Description,
			Source:  "knowledge_graph",
		})
	}

	if sr.AnswerBox.Answer != "" || sr.AnswerBox.Snippet != "" {
		snippet := sr.AnswerBox.Answer
		if snippet == "" {
			snippet = sr.AnswerBox.Snippet
		}
		results = append(results, Result{
			Title:   sr.AnswerBox.Title,
			Link:    sr.AnswerBox.Link,
			Snippet: snippet,
			Source:  "answer_box",
		})
	}

	for _, org := range sr.OrganicResults {
		results = append(results, Result{
			Title:   org.Title,
			Link:    org.Link,
			Snippet: org.Snippet,
			Source:  "organic",
		})
	}

	if len(results) > numResults {
		results = results[:numResults]
	}
	return results, nil
}
