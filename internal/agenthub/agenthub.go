// Package agenthub runs a full collaborative turn: a tool loop on the
// active (supervisor) agent, followed by delegation rounds to auxiliary
// agents, followed by finalization. It sits above orchestrator (which only
// knows how to route one call to one adapter) the way the teacher's
// Loop.runLoop sits above a single provider, generalized to a
// supervisor/worker pattern grounded on the teacher's
// DelegateManager.Delegate/DelegateAsync.
package agenthub

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/andy963/ads/internal/agentadapter"
	"github.com/andy963/ads/internal/apperr"
	"github.com/andy963/ads/internal/orchestrator"
	"github.com/andy963/ads/internal/toolsreg"
)

const (
	defaultMaxSupervisorRounds   = 2
	defaultMaxDelegations        = 6
	defaultDelegationConcurrency = 3
)

// Options configures one Run call.
type Options struct {
	MaxSupervisorRounds   int
	MaxDelegations        int
	MaxToolRounds         int // 0 = unbounded
	DelegationConcurrency int
	ToolContext           *toolsreg.ToolContext
}

func (o Options) withDefaults() Options {
	if o.MaxSupervisorRounds <= 0 {
		o.MaxSupervisorRounds = defaultMaxSupervisorRounds
	}
	if o.MaxDelegations <= 0 {
		o.MaxDelegations = defaultMaxDelegations
	}
	if o.DelegationConcurrency <= 0 {
		o.DelegationConcurrency = defaultDelegationConcurrency
	}
	return o
}

// DelegationRecord documents one supervisor -> worker exchange.
type DelegationRecord struct {
	AgentID  string
	Prompt   string
	Response string
}

// HubResult is Run's return value.
type HubResult struct {
	Response         string
	Usage            *agentadapter.Usage
	Delegations      []DelegationRecord
	SupervisorRounds int
	ExploredEntries  []string
}

// StatefulChecker reports whether agentID should be treated as a stateful
// adapter (remembers a vendor-side thread) for feedback-prompt construction.
type StatefulChecker func(agentID string) bool

// Hub runs collaborative turns against an Orchestrator using a Tool
// Registry for block dispatch.
type Hub struct {
	Orchestrator *orchestrator.Orchestrator
	Tools        *toolsreg.Registry
	IsStateful   StatefulChecker
}

// New creates a Hub. isStateful may be nil, in which case every agent is
// treated as stateless (always resend stripped prior response).
func New(o *orchestrator.Orchestrator, tools *toolsreg.Registry, isStateful StatefulChecker) *Hub {
	if isStateful == nil {
		isStateful = func(string) bool { return false }
	}
	return &Hub{Orchestrator: o, Tools: tools, IsStateful: isStateful}
}

// Run executes Phase 1 on the active agent, then Phase 2 delegation rounds,
// then Phase 3 finalization.
func (h *Hub) Run(ctx context.Context, input string, opts Options) (HubResult, error) {
	opts = opts.withDefaults()

	if err := ctx.Err(); err != nil {
		return HubResult{}, apperr.WrapErr(apperr.Abort, err)
	}

	activeID := h.Orchestrator.GetActiveAgentID()
	if activeID == "" {
		return HubResult{}, apperr.Wrap(apperr.Input, "no active agent")
	}

	turn := &turnState{hub: h, opts: opts}
	response, usage, err := turn.phase1(ctx, activeID, input)
	if err != nil {
		return HubResult{}, err
	}

	response, supervisorRounds, err := turn.phase2(ctx, activeID, response)
	if err != nil {
		return HubResult{}, err
	}

	final := turn.phase3(response)

	return HubResult{
		Response:         final,
		Usage:            usage,
		Delegations:      turn.delegations,
		SupervisorRounds: supervisorRounds,
		ExploredEntries:  turn.explored,
	}, nil
}

// turnState accumulates the side-effects of one Run call.
type turnState struct {
	hub         *Hub
	opts        Options
	delegations []DelegationRecord
	explored    []string
	mu          sync.Mutex
}

func (t *turnState) recordExplored(entry string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.explored = append(t.explored, entry)
}

func (t *turnState) recordDelegation(rec DelegationRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delegations = append(t.delegations, rec)
}

// phase1 runs the tool loop for one agent: inject the tool guide, invoke,
// execute any tool blocks, feed results back, repeat until the response
// carries no further tool blocks or max_tool_rounds is hit.
func (t *turnState) phase1(ctx context.Context, agentID, input string) (string, *agentadapter.Usage, error) {
	current := toolGuidePreamble + input
	stateful := t.hub.IsStateful(agentID)
	var lastUsage *agentadapter.Usage

	round := 0
	for {
		if err := ctx.Err(); err != nil {
			return "", nil, apperr.WrapErr(apperr.Abort, err)
		}

		res, err := t.hub.Orchestrator.InvokeAgent(ctx, agentID, current, agentadapter.SendOptions{})
		if err != nil {
			return "", nil, err
		}
		lastUsage = res.Usage

		blocks := toolsreg.ParseToolBlocks(res.Response)
		if len(blocks) == 0 {
			return res.Response, lastUsage, nil
		}

		round++
		if t.opts.MaxToolRounds > 0 && round > t.opts.MaxToolRounds {
			return toolsreg.StripBlocks(res.Response, blocks), lastUsage, nil
		}

		if err := ctx.Err(); err != nil {
			return "", nil, apperr.WrapErr(apperr.Abort, err)
		}

		dispatch := t.hub.Tools.Dispatch(ctx, t.opts.ToolContext, res.Response)
		for i, b := range dispatch.Blocks {
			t.recordExplored(fmt.Sprintf("tool:%s -> %s", b.Name, truncate(dispatch.Outputs[i], 200)))
		}

		current = buildFeedbackPrompt(dispatch, stateful)
	}
}

// phase2 extracts delegation blocks from the supervisor's response and runs
// delegation rounds until the supervisor stops delegating or the round/
// delegation bounds are hit.
func (t *turnState) phase2(ctx context.Context, supervisorID, response string) (string, int, error) {
	rounds := 0
	for rounds < t.opts.MaxSupervisorRounds {
		if err := ctx.Err(); err != nil {
			return "", rounds, apperr.WrapErr(apperr.Abort, err)
		}

		directives := dedupeDelegations(toolsreg.ParseAgentBlocks(response), supervisorID, t.opts.MaxDelegations)
		if len(directives) == 0 {
			return response, rounds, nil
		}

		results := t.runDelegationBatch(ctx, directives)
		if err := firstErr(results); err != nil {
			return "", rounds, err
		}

		for _, r := range results {
			t.recordDelegation(DelegationRecord{AgentID: r.agentID, Prompt: r.prompt, Response: r.response})
		}

		rounds++
		reconciliation := buildReconciliationPrompt(results)
		res, err := t.hub.Orchestrator.InvokeAgent(ctx, supervisorID, reconciliation, agentadapter.SendOptions{})
		if err != nil {
			return "", rounds, err
		}
		response = res.Response
	}
	return response, rounds, nil
}

// phase3 strips any remaining delegation blocks from the final response.
func (t *turnState) phase3(response string) string {
	blocks := toolsreg.ParseAgentBlocks(response)
	return toolsreg.StripBlocks(response, blocks)
}

type delegationDirective struct {
	agentID string
	prompt  string
}

type delegationOutcome struct {
	agentID  string
	prompt   string
	response string
	err      error
}

func dedupeDelegations(blocks []toolsreg.Block, supervisorID string, max int) []delegationDirective {
	seen := make(map[string]bool)
	var out []delegationDirective
	for _, b := range blocks {
		if b.Name == supervisorID {
			continue
		}
		key := b.Name + "\x00" + b.Payload
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, delegationDirective{agentID: b.Name, prompt: b.Payload})
		if len(out) >= max {
			break
		}
	}
	return out
}

// runDelegationBatch serializes calls per agent id, but runs different
// agent ids concurrently up to DelegationConcurrency.
func (t *turnState) runDelegationBatch(ctx context.Context, directives []delegationDirective) []delegationOutcome {
	byAgent := make(map[string][]delegationDirective)
	var order []string
	for _, d := range directives {
		if _, ok := byAgent[d.agentID]; !ok {
			order = append(order, d.agentID)
		}
		byAgent[d.agentID] = append(byAgent[d.agentID], d)
	}

	results := make([][]delegationOutcome, len(order))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.DelegationConcurrency)

	for i, agentID := range order {
		i, agentID := i, agentID
		g.Go(func() error {
			var outcomes []delegationOutcome
			for _, d := range byAgent[agentID] {
				resp, err := t.runOneDelegation(gctx, d)
				outcomes = append(outcomes, delegationOutcome{agentID: d.agentID, prompt: d.prompt, response: resp, err: err})
				if err != nil {
					break
				}
			}
			results[i] = outcomes
			return nil
		})
	}
	_ = g.Wait()

	var flat []delegationOutcome
	for _, group := range results {
		flat = append(flat, group...)
	}
	return flat
}

func (t *turnState) runOneDelegation(ctx context.Context, d delegationDirective) (string, error) {
	if !t.hub.Orchestrator.HasAgent(d.agentID) {
		return "", apperr.Wrap(apperr.Input, "delegation to unknown agent %q", d.agentID)
	}
	response, _, err := t.phase1(ctx, d.agentID, d.prompt)
	return response, err
}

func firstErr(outcomes []delegationOutcome) error {
	for _, o := range outcomes {
		if o.err != nil {
			return o.err
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
