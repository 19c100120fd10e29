package search

import (
	"context"
	"log/slog"

	"github.com/oxleyk/canvas-agent/internal/tools"
)

// RegisterTool wires the web_search tool into a registry.
func RegisterTool(r *tools.Registry, mgr *Manager, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "web_search")

	r.Register(&tools.Tool{
		Name:        tools.NameWebSearch,
		Description: "Search the web for market data, competitors, trends, or anything needed to pressure-test the business idea.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query string.",
				},
				"count": map[string]any{
					"type":        "integer",
					"description": "Maximum number of results to return (1-10). Default: 4.",
				},
				"language": map[string]any{
					"type":        "string",
					"description": "ISO 639-1 language code for results (e.g., 'en', 'id').",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) tools.Result {
			query, _ := args["query"].(string)
			if query == "" {
				return tools.Failed("query is required")
			}

			opts := Options{}
			if count, ok := args["count"].(float64); ok && count > 0 {
				opts.Count = int(count)
			}
			if lang, ok := args["language"].(string); ok {
				opts.Language = lang
			}

			results, err := mgr.Search(ctx, query, opts)
			if err != nil {
				logger.Warn("search failed", "query", query, "error", err)
				return tools.Failed("search failed: " + err.Error())
			}
			if len(results) == 0 {
				return tools.Success("No results found.")
			}

			logger.Debug("search completed", "query", query, "results", len(results))
			return tools.Result{Status: tools.StatusSuccess, Data: results}
		},
	})
}
