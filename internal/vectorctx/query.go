package vectorctx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/andy963/ads/internal/apperr"
	"github.com/andy963/ads/internal/history"
)

// triggerKeywords are continuation prompts that carry no retrievable
// content of their own; Search rewrites them to the session's last
// meaningful user message before querying.
var triggerKeywords = map[string]bool{
	"continue": true,
	"继续":       true,
	"go on":    true,
	"keep going": true,
}

func isTriggerKeyword(s string) bool {
	return triggerKeywords[strings.ToLower(strings.TrimSpace(s))]
}

type hit struct {
	Snippet  string            `json:"snippet"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata"`
}

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	Hits []hit `json:"hits"`
}

type rerankRequest struct {
	Query string `json:"query"`
	Hits  []hit  `json:"hits"`
}

type rerankResponse struct {
	Hits []hit `json:"hits"`
}

// Search implements the vsearch tool and the implicit auto-context
// injection: throttle/cache check, trigger-keyword rewrite against the
// session's history, remote /query, optional /rerank, stale-hit drop, and
// formatting into a plain-text snippet block.
//
// hist/namespace/sessionID may be the zero value when Search is invoked
// outside a chat session (e.g. the vsearch tool called against a plain
// workspace query with no history context) — the rewrite step is then
// skipped.
func (c *Client) Search(ctx context.Context, hist *history.Store, namespace, sessionID, query string) (string, error) {
	if !c.enabled() {
		return "", nil
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return "", apperr.Wrap(apperr.Input, "vsearch query must not be empty")
	}
	if len(query) > c.cfg.MaxQueryChars {
		query = query[:c.cfg.MaxQueryChars]
	}

	if hist != nil && sessionID != "" && isTriggerKeyword(query) {
		if last, ok, err := hist.LastMeaningfulUserMessage(ctx, sessionID, isTriggerKeyword); err == nil && ok {
			query = last
		}
	}

	now := time.Now()
	if cached, hitCache := c.throttled(now); hitCache {
		return cached, nil
	}

	hits, err := c.postQuery(ctx, query)
	if err != nil {
		return "", err
	}
	if len(hits) > 1 {
		if reranked, err := c.postRerank(ctx, query, hits); err == nil {
			hits = reranked
		}
	}
	hits = dropStaleHits(hits)

	result := formatHits(hits)
	c.remember(now, query, result)
	return result, nil
}

func (c *Client) postQuery(ctx context.Context, query string) ([]hit, error) {
	var resp queryResponse
	if err := c.postJSON(ctx, "/query", queryRequest{Query: query}, &resp); err != nil {
		return nil, err
	}
	return resp.Hits, nil
}

func (c *Client) postRerank(ctx context.Context, query string, hits []hit) ([]hit, error) {
	var resp rerankResponse
	if err := c.postJSON(ctx, "/rerank", rerankRequest{Query: query, Hits: hits}, &resp); err != nil {
		return nil, err
	}
	return resp.Hits, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return apperr.WrapErr(apperr.Input, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return apperr.WrapErr(apperr.Config, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.WrapErr(apperr.Upstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperr.Wrap(apperr.Upstream, "vector service %s returned %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.WrapErr(apperr.Upstream, err)
	}
	return nil
}

// dropStaleHits removes hits whose metadata["content_hash"] (written by
// the preflight indexer) no longer matches the file's current hash, which
// the remote service reports in metadata["current_hash"] at query time.
// A hit with no current_hash metadata (history-sourced, not
// file-sourced) is never considered stale.
func dropStaleHits(hits []hit) []hit {
	fresh := make([]hit, 0, len(hits))
	for _, h := range hits {
		if h.Metadata == nil {
			fresh = append(fresh, h)
			continue
		}
		if current, ok := h.Metadata["current_hash"]; ok {
			if stored, ok := h.Metadata["content_hash"]; ok && stored != current {
				continue
			}
		}
		fresh = append(fresh, h)
	}
	return fresh
}

func formatHits(hits []hit) string {
	if len(hits) == 0 {
		return ""
	}
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		if src, ok := h.Metadata["source_type"]; ok {
			fmt.Fprintf(&b, "[%s] ", src)
		}
		b.WriteString(h.Snippet)
	}
	return b.String()
}
