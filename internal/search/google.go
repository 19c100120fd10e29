package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/oxleyk/canvas-agent/internal/httpkit"
)

const googleSearchURL = "https://www.googleapis.com/customsearch/v1"

// Google implements the Provider interface for the Google Custom
// Search JSON API. Requires an API key and a programmable search
// engine id (cx).
type Google struct {
	apiKey     string
	cx         string
	httpClient *http.Client
}

// NewGoogle creates a Google Custom Search provider.
func NewGoogle(apiKey, cx string) *Google {
	return &Google{
		apiKey: apiKey,
		cx:     cx,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15 * time.Second),
		),
	}
}

func (g *Google) Name() string { return "google" }

// googleResponse is the JSON response from the customsearch endpoint.
type googleResponse struct {
	Items []googleItem `json:"items"`
}

type googleItem struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

func (g *Google) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	return g.searchURL(ctx, googleSearchURL, query, opts)
}

func (g *Google) searchURL(ctx context.Context, endpoint, query string, opts Options) ([]Result, error) {
	count := opts.Count
	if count <= 0 {
		count = DefaultCount
	}
	if count > 10 {
		count = 10 // API maximum per request
	}

	params := url.Values{
		"key": {g.apiKey},
		"cx":  {g.cx},
		"q":   {query},
		"num": {strconv.Itoa(count)},
	}
	if opts.Language != "" {
		params.Set("lr", "lang_"+opts.Language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("google: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("google: HTTP %d: %s", resp.StatusCode, body)
	}

	var gr googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("google: decode response: %w", err)
	}

	results := make([]Result, 0, len(gr.Items))
	for _, item := range gr.Items {
		results = append(results, Result{
			Title:   item.Title,
			URL:     item.Link,
			Snippet: item.Snippet,
		})
	}
	return results, nil
}

// GoogleConfig holds configuration for the Google provider.
type GoogleConfig struct {
	APIKey string `yaml:"api_key"`
	CX     string `yaml:"cx"`
}

// Configured reports whether both the API key and engine id are set.
func (c GoogleConfig) Configured() bool {
	return c.APIKey != "" && c.CX != ""
}
