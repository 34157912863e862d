package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andy963/ads/internal/agenthub"
	"github.com/andy963/ads/internal/authdb"
	"github.com/andy963/ads/internal/bus"
	"github.com/andy963/ads/internal/channels"
	"github.com/andy963/ads/internal/channels/telegram"
	"github.com/andy963/ads/internal/config"
	"github.com/andy963/ads/internal/dbutil"
	"github.com/andy963/ads/internal/history"
	"github.com/andy963/ads/internal/httpapi"
	"github.com/andy963/ads/internal/logrotate"
	"github.com/andy963/ads/internal/runcontrol"
	"github.com/andy963/ads/internal/session"
	"github.com/andy963/ads/internal/taskqueue"
	"github.com/andy963/ads/internal/taskstore"
	"github.com/andy963/ads/internal/threadstore"
	"github.com/andy963/ads/internal/toolsreg"
	"github.com/andy963/ads/internal/vectorctx"
	"github.com/andy963/ads/internal/wslock"
	"github.com/andy963/ads/internal/wsfront"
)

// sessionAuthenticator adapts authdb to wsfront.Authenticator, verifying
// the ads_session cookie the same way httpapi.Handler's authMiddleware
// does, so both the HTTP API and the WebSocket Front trust one cookie.
type sessionAuthenticator struct {
	auth *authdb.DB
}

func (a *sessionAuthenticator) Authenticate(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(httpapi.SessionCookieName)
	if err != nil {
		return "", false
	}
	sess, err := a.auth.VerifySession(r.Context(), cookie.Value, time.Now(), r.RemoteAddr, r.UserAgent())
	if err != nil {
		return "", false
	}
	return sess.UserID, true
}

// deployment bundles every long-lived component runServe wires together,
// so project runtimes and the bus consumer/dispatcher goroutines can share
// them without a sprawling parameter list.
type deployment struct {
	cfg      *config.Config
	auth     *authdb.DB
	sessions *session.Manager
	tools    *toolsreg.Registry
	runtimes *httpapi.Runtimes
	events   *bus.MessageBus
	channels map[string]channels.Channel
}

// buildProjectRuntime opens (or creates) a project's workspace state.db,
// wires its Task Queue worker and Run Controller, starts the worker loop,
// and registers the runtime — the same sequence for a project discovered
// at startup and one created later through the HTTP API.
func (d *deployment) buildProjectRuntime(ctx context.Context, project authdb.Project) error {
	if err := os.MkdirAll(project.WorkspaceRoot+"/.ads", 0o755); err != nil {
		return fmt.Errorf("create .ads dir for project %s: %w", project.ProjectID, err)
	}
	sqlDB, err := dbutil.Open(stateDBPathFor(project.WorkspaceRoot))
	if err != nil {
		return fmt.Errorf("open workspace db for project %s: %w", project.ProjectID, err)
	}
	tasks, err := taskstore.Open(ctx, sqlDB)
	if err != nil {
		return fmt.Errorf("open task store for project %s: %w", project.ProjectID, err)
	}
	tasks.SetBlobRoot(project.WorkspaceRoot + "/.ads/attachments")

	resolver := newTaskOrchestratorResolver(d.sessions, d.tools, d.cfg, project.WorkspaceRoot)
	artifacts := taskqueue.GitArtifacts{}
	locks := wslock.New()
	worker := taskqueue.New(tasks, resolver, d.events, artifacts, locks, taskqueue.Options{
		PollInterval:   time.Duration(d.cfg.TaskQueue.PollIntervalMs) * time.Millisecond,
		RetryBackoffMs: d.cfg.TaskQueue.RetryBackoffMs,
		WorkspaceRoot:  project.WorkspaceRoot,
	})
	control := runcontrol.New(tasks, worker)

	go worker.Run(ctx)

	d.runtimes.Register(project.ProjectID, &httpapi.ProjectRuntime{Tasks: tasks, Queue: worker, Control: control})
	slog.Info("project runtime registered", "project_id", project.ProjectID, "workspace_root", project.WorkspaceRoot)
	return nil
}

// stateDBPathFor returns <workspaceRoot>/.ads/state.db, the same path as
// workspaceStateDBPath in tasks.go but without creating the .ads directory.
func stateDBPathFor(workspaceRoot string) string {
	return workspaceRoot + "/.ads/state.db"
}

// consumeInboundMessages drains the bus's inbound queue, resolves (or
// creates) the sending user's session, runs one Agent Hub turn, and
// publishes the reply outbound — the channel-agnostic half of every
// channel integration, grounded on the teacher's consumeInboundMessages.
func consumeInboundMessages(ctx context.Context, d *deployment) {
	for {
		msg, ok := d.events.ConsumeInbound(ctx)
		if !ok {
			return
		}
		go func(msg bus.InboundMessage) {
			entry, err := d.sessions.GetOrCreate(ctx, msg.UserID, d.cfg.Gateway.DefaultWorkspaceRoot, true)
			if err != nil {
				slog.Error("session resolve failed", "error", err, "user_id", msg.UserID)
				return
			}

			agentsCfg := d.cfg.AgentsSnapshot()
			hub := agenthub.New(entry.Orchestrator, d.tools, entry.IsStateful)
			result, err := hub.Run(ctx, msg.Content, agenthub.Options{
				MaxSupervisorRounds:   agentsCfg.MaxSupervisorRounds,
				MaxDelegations:        agentsCfg.MaxDelegations,
				MaxToolRounds:         agentsCfg.MaxToolRounds,
				DelegationConcurrency: agentsCfg.DelegationConcurrency,
				ToolContext:           buildToolContext(d.cfg, entry.Cwd),
			})
			if err != nil {
				slog.Error("agent hub run failed", "error", err, "channel", msg.Channel)
				return
			}

			d.events.PublishOutbound(bus.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Content: result.Response,
			})
		}(msg)
	}
}

// dispatchOutboundMessages drains the bus's outbound queue and hands each
// message to the channel it named, the channel-agnostic dispatch half
// matching consumeInboundMessages.
func dispatchOutboundMessages(ctx context.Context, d *deployment) {
	for {
		msg, ok := d.events.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		ch, ok := d.channels[msg.Channel]
		if !ok {
			continue
		}
		if err := ch.Send(ctx, msg); err != nil {
			slog.Error("channel send failed", "channel", msg.Channel, "error", err)
		}
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(2)
	}
	if verbose {
		cfg.Log.Verbose = true
	}

	logWriter := io.Writer(os.Stdout)
	if cfg.Log.BasePath != "" {
		rotator, err := logrotate.New(cfg.Log.BasePath, cfg.Log.MaxBytes)
		if err != nil {
			slog.Error("failed to open rotating log file", "error", err)
			os.Exit(2)
		}
		defer rotator.Close()
		logWriter = io.MultiWriter(os.Stdout, rotator)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: logLevel})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	stateDB, err := dbutil.Open(cfg.Database.StateDBPath)
	if err != nil {
		slog.Error("failed to open global state db", "error", err)
		os.Exit(2)
	}
	auth, err := authdb.Open(ctx, stateDB, authdb.Options{Pepper: cfg.Gateway.SessionPepper})
	if err != nil {
		slog.Error("failed to open auth db", "error", err)
		os.Exit(2)
	}

	threads, err := threadstore.Open(ctx, stateDB, threadstore.Options{})
	if err != nil {
		slog.Error("failed to open thread store", "error", err)
		os.Exit(2)
	}
	historyStore, err := history.Open(ctx, stateDB, history.Options{})
	if err != nil {
		slog.Error("failed to open history store", "error", err)
		os.Exit(2)
	}

	msgBus := bus.NewMessageBus(256)
	toolsRegistry := toolsreg.NewRegistry()
	sessions := session.NewManager(cfg, threads, msgBus)
	runtimes := httpapi.NewRuntimes()

	var vectorClient *vectorctx.Client
	if cfg.Vector.Enabled {
		vectorClient = vectorctx.New(vectorctx.Config{
			Enabled:           cfg.Vector.Enabled,
			BaseURL:           cfg.Vector.Endpoint,
			MaxQueryChars:     cfg.Vector.MaxQueryChars,
			MinInterval:       time.Duration(cfg.Vector.MinIntervalMs) * time.Millisecond,
			RequestTimeout:    time.Duration(cfg.Vector.TimeoutMs) * time.Millisecond,
			IndexMaxChars:     cfg.Vector.MaxChars,
			IndexOverlapChars: cfg.Vector.OverlapChars,
		})
	}

	d := &deployment{
		cfg:      cfg,
		auth:     auth,
		sessions: sessions,
		tools:    toolsRegistry,
		runtimes: runtimes,
		events:   msgBus,
		channels: make(map[string]channels.Channel),
	}

	os.MkdirAll(cfg.Gateway.DefaultWorkspaceRoot+"/.ads", 0o755)

	existing, err := auth.AllProjects(ctx)
	if err != nil {
		slog.Error("failed to load projects", "error", err)
		os.Exit(2)
	}
	if len(existing) == 0 {
		bootstrapProject, err := auth.CreateProject(ctx, "admin", "default", cfg.Gateway.DefaultWorkspaceRoot, "default", time.Now())
		if err != nil {
			slog.Warn("failed to bootstrap default project", "error", err)
		} else {
			existing = append(existing, bootstrapProject)
		}
	}
	var defaultProjectRuntime *httpapi.ProjectRuntime
	for _, project := range existing {
		if err := d.buildProjectRuntime(ctx, project); err != nil {
			slog.Error("failed to start project runtime", "project_id", project.ProjectID, "error", err)
			continue
		}
		if rt, err := runtimes.Get(project.ProjectID); err == nil && defaultProjectRuntime == nil {
			defaultProjectRuntime = rt
		}
	}

	httpHandler := httpapi.NewHandler(auth, runtimes, cfg.Gateway.CookieSecure)
	httpHandler.OnProjectCreated(func(project authdb.Project) {
		if err := d.buildProjectRuntime(ctx, project); err != nil {
			slog.Error("failed to start runtime for new project", "project_id", project.ProjectID, "error", err)
		}
	})

	var defaultTasks *taskstore.Store
	if defaultProjectRuntime != nil {
		defaultTasks = defaultProjectRuntime.Tasks
	}

	if cfg.Telegram.Enabled {
		tgChannel, err := telegram.New(cfg.Telegram, msgBus, defaultTasks)
		if err != nil {
			slog.Error("failed to create telegram channel", "error", err)
		} else {
			d.channels["telegram"] = tgChannel
			if err := tgChannel.Start(ctx); err != nil {
				slog.Error("failed to start telegram channel", "error", err)
			}
		}
	}

	go consumeInboundMessages(ctx, d)
	go dispatchOutboundMessages(ctx, d)

	agentsCfg := cfg.AgentsSnapshot()
	hubOpts := agenthub.Options{
		MaxSupervisorRounds:   agentsCfg.MaxSupervisorRounds,
		MaxDelegations:        agentsCfg.MaxDelegations,
		MaxToolRounds:         agentsCfg.MaxToolRounds,
		DelegationConcurrency: agentsCfg.DelegationConcurrency,
	}
	front := wsfront.New(
		wsfront.Config{
			AllowedOrigins:       []string(cfg.Gateway.AllowedOrigins),
			MaxClients:           cfg.Gateway.MaxClients,
			PingIntervalMs:       cfg.Gateway.PingIntervalMs,
			MaxMissedPongs:       cfg.Gateway.MaxMissedPongs,
			DefaultWorkspaceRoot: cfg.Gateway.DefaultWorkspaceRoot,
		},
		cfg,
		&sessionAuthenticator{auth: auth},
		sessions,
		historyStore,
		wslock.New(),
		toolsRegistry,
		hubOpts,
		msgBus,
		vectorClient,
	)

	mux := http.NewServeMux()
	httpHandler.RegisterRoutes(mux)
	mux.Handle("/ws", front)

	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	httpServer := &http.Server{Addr: addr, Handler: mux}

	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		for _, ch := range d.channels {
			_ = ch.Stop(context.Background())
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
	}()

	slog.Info("ads serving", "addr", addr, "projects", len(existing))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", "error", err)
		os.Exit(1)
	}
}
