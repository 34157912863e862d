package toolsreg

import (
	"context"
	"encoding/json"
	"strings"
)

// handleSearch backs the `search` tool. Payload is either a bare query
// string or a SearchQuery JSON object.
func handleSearch(ctx context.Context, tctx *ToolContext, payload string) string {
	if tctx.Search == nil {
		return "[config error: no search provider configured]"
	}

	q := decodeSearchQuery(payload)
	if strings.TrimSpace(q.Query) == "" {
		return "[input error: search query must not be empty]"
	}

	out, err := tctx.Search(ctx, q)
	if err != nil {
		return "[search error: " + err.Error() + "]"
	}
	return out
}

func decodeSearchQuery(payload string) SearchQuery {
	trimmed := strings.TrimSpace(payload)
	if strings.HasPrefix(trimmed, "{") {
		var q SearchQuery
		if err := json.Unmarshal([]byte(trimmed), &q); err == nil {
			return q
		}
	}
	return SearchQuery{Query: trimmed}
}

// handleVSearch backs the `vsearch` tool: Vector Auto-Context lookup against
// the workspace root.
func handleVSearch(ctx context.Context, tctx *ToolContext, payload string) string {
	if tctx.VectorDisabled || tctx.VectorSearch == nil {
		return ""
	}
	query := strings.TrimSpace(payload)
	if query == "" {
		return "[input error: vsearch query must not be empty]"
	}
	out, err := tctx.VectorSearch(ctx, query)
	if err != nil {
		return "[vsearch error: " + err.Error() + "]"
	}
	return out
}
