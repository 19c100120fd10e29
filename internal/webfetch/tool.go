package webfetch

import (
	"context"
	"log/slog"

	"github.com/oxleyk/canvas-agent/internal/tools"
)

// RegisterTool wires the fetch_page tool into a registry.
func RegisterTool(r *tools.Registry, f *Fetcher, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "fetch_page")

	r.Register(&tools.Tool{
		Name:        tools.NameFetchPage,
		Description: "Fetch a web page and read its text content. Use after web_search to dig into a promising source.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "URL to fetch and extract content from.",
				},
				"max_chars": map[string]any{
					"type":        "integer",
					"description": "Maximum characters to return. Default: 20000.",
				},
			},
			"required": []string{"url"},
		},
		Handler: func(ctx context.Context, args map[string]any) tools.Result {
			url, _ := args["url"].(string)
			if url == "" {
				return tools.Failed("url is required")
			}

			maxChars := 0
			if mc, ok := args["max_chars"].(float64); ok && mc > 0 {
				maxChars = int(mc)
			}

			page, err := f.Fetch(ctx, url, maxChars)
			if err != nil {
				logger.Warn("fetch failed", "url", url, "error", err)
				return tools.Failed("fetch failed: " + err.Error())
			}

			logger.Debug("page fetched", "url", page.URL, "status", page.StatusCode, "length", page.Length)
			return tools.Result{Status: tools.StatusSuccess, Data: page}
		},
	})
}
