package cmd

import (
	"context"

	"github.com/andy963/ads/internal/agenthub"
	"github.com/andy963/ads/internal/config"
	"github.com/andy963/ads/internal/session"
	"github.com/andy963/ads/internal/taskqueue"
	"github.com/andy963/ads/internal/taskstore"
	"github.com/andy963/ads/internal/toolsreg"
)

// buildToolContext derives a Tool Registry context from cwd and the static
// exec policy in appCfg. Unlike wsfront's per-connection buildToolContext,
// this has no chat session to scope vsearch to, so Vector Auto-Context
// stays disabled for Task Queue runs (a task-scoped vsearch namespace is
// future work, not something today's vectorctx.Client.Search signature —
// keyed on a History Store session — supports).
func buildToolContext(appCfg *config.Config, cwd string) *toolsreg.ToolContext {
	tools := appCfg.Tools
	return &toolsreg.ToolContext{
		Cwd:            cwd,
		AllowedDirs:    []string(tools.AllowedDirs),
		ExecAllowlist:  []string(tools.ExecAllowlist),
		ExecTimeoutMs:  tools.ExecTimeoutMs,
		ExecMaxOutput:  tools.MaxOutputBytes,
		ExecDisabled:   tools.ExecDisabled,
		VectorDisabled: true,
	}
}

// taskOrchestratorResolver implements taskqueue.OrchestratorResolver,
// bridging the Session Manager and Agent Hub into the Task Queue's
// 2-argument HubRunner contract. One resolver is built per workspace.
type taskOrchestratorResolver struct {
	sessions      *session.Manager
	tools         *toolsreg.Registry
	appCfg        *config.Config
	workspaceRoot string
}

func newTaskOrchestratorResolver(sessions *session.Manager, tools *toolsreg.Registry, appCfg *config.Config, workspaceRoot string) *taskOrchestratorResolver {
	return &taskOrchestratorResolver{sessions: sessions, tools: tools, appCfg: appCfg, workspaceRoot: workspaceRoot}
}

// Resolve rebuilds (or reuses) the orchestrator bound to a fixed
// "task-queue" session key per task, resuming its saved thread only when
// task.InheritContext is set — the spec's per-task getOrchestrator(task).
func (r *taskOrchestratorResolver) Resolve(ctx context.Context, task taskstore.Task) (taskqueue.HubRunner, error) {
	entry, err := r.sessions.GetOrCreate(ctx, "task-queue:"+task.ID, r.workspaceRoot, task.InheritContext)
	if err != nil {
		return nil, err
	}

	hub := agenthub.New(entry.Orchestrator, r.tools, entry.IsStateful)
	agentsCfg := r.appCfg.AgentsSnapshot()
	opts := agenthub.Options{
		MaxSupervisorRounds:   agentsCfg.MaxSupervisorRounds,
		MaxDelegations:        agentsCfg.MaxDelegations,
		MaxToolRounds:         agentsCfg.MaxToolRounds,
		DelegationConcurrency: agentsCfg.DelegationConcurrency,
		ToolContext:           buildToolContext(r.appCfg, r.workspaceRoot),
	}
	return &hubRunnerAdapter{hub: hub, opts: opts}, nil
}

// hubRunnerAdapter closes over the Options a Hub.Run call needs, exposing
// the narrow 2-argument Run signature taskqueue.HubRunner requires.
type hubRunnerAdapter struct {
	hub  *agenthub.Hub
	opts agenthub.Options
}

func (a *hubRunnerAdapter) Run(ctx context.Context, input string) (taskqueue.HubResult, error) {
	res, err := a.hub.Run(ctx, input, a.opts)
	if err != nil {
		return taskqueue.HubResult{}, err
	}
	return taskqueue.HubResult{Response: res.Response, Usage: res.Usage}, nil
}
