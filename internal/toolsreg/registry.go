// Package toolsreg implements the Tool Registry: parsing fenced
// <<<tool.NAME>>> / <<<agent.ID>>> blocks out of agent text, dispatching each
// to a handler under a path-allowlist sandbox, and stitching the handler
// outputs back into the original text (replaced) or removing them (stripped).
package toolsreg

import (
	"context"
	"sort"
	"sync"
)

// ToolContext is the per-invocation environment handed to every handler.
// It mirrors spec's ctx = { cwd, allowed_dirs, signal, invoke_agent }.
type ToolContext struct {
	Cwd         string
	AllowedDirs []string

	// InvokeAgent backs the `agent` tool; nil means delegation is unavailable
	// in this context (e.g. a sub-delegate has no further invoke_agent).
	InvokeAgent func(ctx context.Context, agentID, prompt string) (string, error)

	// Search backs the `search` tool. Returns a config-kind error when no
	// provider is configured.
	Search func(ctx context.Context, q SearchQuery) (string, error)

	// VectorSearch backs the `vsearch` tool. nil or VectorDisabled=true means
	// the tool is skipped (per spec: "skipped when disabled").
	VectorSearch    func(ctx context.Context, query string) (string, error)
	VectorDisabled  bool

	ExecAllowlist  []string
	ExecTimeoutMs  int
	ExecMaxOutput  int
	ExecDisabled   bool

	GrepMaxResults int
	FindMaxResults int
}

// SearchQuery is the decoded payload for the `search` tool.
type SearchQuery struct {
	Query          string   `json:"query"`
	MaxResults     int      `json:"maxResults,omitempty"`
	IncludeDomains []string `json:"includeDomains,omitempty"`
	ExcludeDomains []string `json:"excludeDomains,omitempty"`
	Lang           string   `json:"lang,omitempty"`
}

// Handler executes one tool invocation and returns the text that replaces
// its block. Handlers have no Go error return: every failure is formatted
// into the returned text per the table in spec §4.B.
type Handler func(ctx context.Context, tctx *ToolContext, payload string) string

// parallelNames is the set of tool names batched concurrently when they
// appear in consecutive blocks.
var parallelNames = map[string]bool{
	"read":   true,
	"grep":   true,
	"find":   true,
	"search": true,
	"vsearch": true,
}

const parallelCap = 6

// Registry maps a tool NAME to its handler. The zero value has no entries;
// use NewRegistry to get the standard dispatch table.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns the standard NAME -> handler dispatch table.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{
		"search":      handleSearch,
		"vsearch":     handleVSearch,
		"agent":       handleAgent,
		"exec":        handleExec,
		"read":        handleRead,
		"write":       handleWrite,
		"apply_patch": handleApplyPatch,
		"grep":        handleGrep,
		"find":        handleFind,
	}}
}

// Register adds or overrides a handler, for tests or extension.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// DispatchResult is the outcome of running every tool block found in text.
type DispatchResult struct {
	Replaced string // blocks substituted with their outputs, at original positions
	Stripped string // blocks removed entirely
	Blocks   []Block
	Outputs  []string // Outputs[i] corresponds to Blocks[i]
}

// Dispatch parses every <<<tool.NAME>>> block in text, executes each via the
// registry, and returns both the replaced and stripped views.
//
// Consecutive blocks whose name is in {read, grep, find, search, vsearch}
// run concurrently (capped at parallelCap); any other name breaks the run
// and is executed alone before the next batch starts. Source order of the
// final replacement is always preserved regardless of completion order.
func (r *Registry) Dispatch(ctx context.Context, tctx *ToolContext, text string) DispatchResult {
	blocks := ParseToolBlocks(text)
	outputs := make([]string, len(blocks))

	i := 0
	for i < len(blocks) {
		if parallelNames[blocks[i].Name] {
			j := i
			for j < len(blocks) && parallelNames[blocks[j].Name] {
				j++
			}
			r.runBatch(ctx, tctx, blocks[i:j], outputs[i:j])
			i = j
			continue
		}
		outputs[i] = r.run(ctx, tctx, blocks[i])
		i++
	}

	return DispatchResult{
		Replaced: ReplaceBlocks(text, blocks, outputs),
		Stripped: StripBlocks(text, blocks),
		Blocks:   blocks,
		Outputs:  outputs,
	}
}

func (r *Registry) run(ctx context.Context, tctx *ToolContext, b Block) string {
	h, ok := r.handlers[b.Name]
	if !ok {
		return "[tool error: unknown tool \"" + b.Name + "\"]"
	}
	return h(ctx, tctx, b.Payload)
}

func (r *Registry) runBatch(ctx context.Context, tctx *ToolContext, blocks []Block, outputs []string) {
	sem := make(chan struct{}, parallelCap)
	var wg sync.WaitGroup
	for idx := range blocks {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			outputs[idx] = r.run(ctx, tctx, blocks[idx])
		}(idx)
	}
	wg.Wait()
}

// sortedKeys is used by tests asserting the dispatch table's coverage.
func (r *Registry) sortedKeys() []string {
	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
