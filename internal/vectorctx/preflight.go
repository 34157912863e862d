package vectorctx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"

	"github.com/andy963/ads/internal/apperr"
	"github.com/andy963/ads/internal/history"
	"github.com/andy963/ads/internal/taskstore"
)

// specDocs is the fixed set of spec files the preflight indexer walks,
// relative to the workspace root.
var specDocs = []string{
	"docs/spec/design.md",
	"docs/spec/requirements.md",
	"docs/spec/implementation.md",
	"docs/spec/task.md",
}

type upsertItem struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

type upsertRequest struct {
	Items []upsertItem `json:"items"`
}

// IndexWorkspaceDocs walks the workspace's specDocs files and
// docs/adr/*.md, chunking and upserting any file whose content_hash has
// changed since the last run (tracked in kv under namespace "vectorctx",
// key "file_hash:"+relpath). Missing files are skipped, not an error,
// since not every workspace has every spec doc; any other read error is
// returned as apperr.Storage.
func (c *Client) IndexWorkspaceDocs(ctx context.Context, workspaceRoot string, kv *taskstore.Store) error {
	if !c.enabled() {
		return nil
	}

	paths := append([]string{}, specDocs...)
	if adrs, err := filepath.Glob(filepath.Join(workspaceRoot, "docs/adr/*.md")); err == nil {
		for _, p := range adrs {
			rel, err := filepath.Rel(workspaceRoot, p)
			if err != nil {
				continue
			}
			paths = append(paths, rel)
		}
	}

	for _, rel := range paths {
		if err := c.indexFile(ctx, workspaceRoot, rel, kv); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) indexFile(ctx context.Context, workspaceRoot, rel string, kv *taskstore.Store) error {
	full := filepath.Join(workspaceRoot, rel)
	content, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return apperr.WrapErr(apperr.Storage, err)
	}

	hash := sha256Hex(content)
	kvKey := "file_hash:" + rel
	if stored, ok, err := kv.GetKV(ctx, "vectorctx", kvKey); err != nil {
		return apperr.WrapErr(apperr.Storage, err)
	} else if ok && stored == hash {
		return nil
	}

	chunks := chunkText(string(content), c.cfg.IndexMaxChars, c.cfg.IndexOverlapChars)
	items := make([]upsertItem, 0, len(chunks))
	for i, chunk := range chunks {
		items = append(items, upsertItem{
			Text: chunk,
			Metadata: map[string]string{
				"source_type":  "file",
				"path":         rel,
				"chunk_index":  strconv.Itoa(i),
				"content_hash": hash,
			},
		})
	}
	if len(items) > 0 {
		if err := c.postJSON(ctx, "/upsert", upsertRequest{Items: items}, &struct{}{}); err != nil {
			return err
		}
	}
	return kv.SetKV(ctx, "vectorctx", kvKey, hash)
}

// IndexHistorySince scans sessionID's history rows inserted since the last
// indexed row id (tracked in kv under namespace "vectorctx", key
// "history_last_id:"+namespace+":"+sessionID), chunks each row's text, and
// upserts it with role/ts/row_id metadata.
func (c *Client) IndexHistorySince(ctx context.Context, hist *history.Store, kv *taskstore.Store, namespace, sessionID string) error {
	if !c.enabled() {
		return nil
	}

	cursorKey := "history_last_id:" + namespace + ":" + sessionID
	lastID := int64(0)
	if stored, ok, err := kv.GetKV(ctx, "vectorctx", cursorKey); err != nil {
		return apperr.WrapErr(apperr.Storage, err)
	} else if ok {
		lastID, _ = strconv.ParseInt(stored, 10, 64)
	}

	entries, err := hist.Since(ctx, sessionID, lastID)
	if err != nil {
		return apperr.WrapErr(apperr.Storage, err)
	}
	if len(entries) == 0 {
		return nil
	}

	items := make([]upsertItem, 0, len(entries))
	for _, e := range entries {
		for _, chunk := range chunkText(e.Text, c.cfg.IndexMaxChars, c.cfg.IndexOverlapChars) {
			items = append(items, upsertItem{
				Text: chunk,
				Metadata: map[string]string{
					"source_type": "history",
					"namespace":   namespace,
					"session_id":  sessionID,
					"row_id":      strconv.FormatInt(e.ID, 10),
					"role":        e.Role,
					"ts":          strconv.FormatInt(e.Ts.Unix(), 10),
				},
			})
		}
	}
	if len(items) > 0 {
		if err := c.postJSON(ctx, "/upsert", upsertRequest{Items: items}, &struct{}{}); err != nil {
			return err
		}
	}

	return kv.SetKV(ctx, "vectorctx", cursorKey, strconv.FormatInt(entries[len(entries)-1].ID, 10))
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
