// Package gateway wires the configuration, event bus, repo inventory,
// session manager, dispatcher, and one platform adapter into a running
// process. It owns the HTTP server that hosts webhook routes, /health, and
// the /ws observer stream.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/baton-gw/baton/internal/agent/acp"
	"github.com/baton-gw/baton/internal/common/config"
	"github.com/baton-gw/baton/internal/common/httpmw"
	"github.com/baton-gw/baton/internal/common/logger"
	"github.com/baton-gw/baton/internal/common/tracing"
	"github.com/baton-gw/baton/internal/dispatch"
	"github.com/baton-gw/baton/internal/events/bus"
	"github.com/baton-gw/baton/internal/i18n"
	"github.com/baton-gw/baton/internal/repos"
	"github.com/baton-gw/baton/internal/session"
	"github.com/baton-gw/baton/internal/task"
	"github.com/baton-gw/baton/internal/transport"
	clitransport "github.com/baton-gw/baton/internal/transport/cli"
	"github.com/baton-gw/baton/internal/transport/discord"
	"github.com/baton-gw/baton/internal/transport/feishu"
	"github.com/baton-gw/baton/internal/transport/slack"
	"github.com/baton-gw/baton/internal/transport/telegram"
	"github.com/baton-gw/baton/internal/transport/whatsapp"
	"github.com/baton-gw/baton/pkg/acp/protocol"
)

// ChooseMode picks the transport for "auto": the first platform with
// credentials configured, falling back to the interactive CLI.
func ChooseMode(cfg *config.Config) string {
	switch {
	case cfg.Feishu.AppID != "" && cfg.Feishu.AppSecret != "":
		return "feishu"
	case cfg.Telegram.BotToken != "":
		return "telegram"
	case cfg.Slack.BotToken != "" && cfg.Slack.SigningSecret != "":
		return "slack"
	case cfg.Discord.BotToken != "" && cfg.Discord.PublicKey != "":
		return "discord"
	case cfg.WhatsApp.Wacli.Bin != "" || cfg.WhatsApp.AccessToken != "":
		return "whatsapp"
	default:
		return "cli"
	}
}

// Gateway is the composition root.
type Gateway struct {
	cfg     *config.Config
	logger  *logger.Logger
	events  bus.EventBus
	mgr     *session.Manager
	disp    *dispatch.Dispatcher
	adapter transport.Adapter
	router  *gin.Engine
	server  *http.Server
	hub     *observerHub
	flush   func(context.Context) error // trace pipeline flush

	mu      sync.Mutex
	targets map[string]transport.ChatTarget // conversation key → chat target
}

// New builds a gateway for the given transport mode.
func New(cfg *config.Config, mode string, log *logger.Logger) (*Gateway, error) {
	i18n.SetLanguage(cfg.Language)

	eventBus, err := buildEventBus(cfg, log)
	if err != nil {
		return nil, err
	}

	inv, err := buildInventory(cfg, log)
	if err != nil {
		eventBus.Close()
		return nil, err
	}

	flush, err := tracing.Init(context.Background())
	if err != nil {
		eventBus.Close()
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), httpmw.OtelTracing(otel.Tracer("baton-gateway")))

	g := &Gateway{
		cfg:     cfg,
		logger:  log.WithFields(zap.String("component", "gateway")),
		events:  eventBus,
		router:  router,
		hub:     newObserverHub(log),
		flush:   flush,
		targets: make(map[string]transport.ChatTarget),
	}

	g.mgr = session.NewManager(cfg, inv, eventBus, log)
	g.mgr.SetCompletionCallback(g.onTaskComplete)
	g.mgr.RegisterListener(g)
	g.disp = dispatch.New(g.mgr, log)

	adapter, err := g.buildAdapter(mode, log)
	if err != nil {
		eventBus.Close()
		return nil, err
	}
	g.adapter = adapter

	router.GET("/health", g.handleHealth)
	router.GET("/ws", g.hub.handleConnect)

	g.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}
	return g, nil
}

func buildEventBus(cfg *config.Config, log *logger.Logger) (bus.EventBus, error) {
	if cfg.Events.NATSURL != "" {
		return bus.NewNATSEventBus(cfg.Events.NATSURL, log)
	}
	return bus.NewMemoryEventBus(), nil
}

// buildInventory resolves the repo inventory: a scan root when configured,
// otherwise the single configured (or current) project directory.
func buildInventory(cfg *config.Config, log *logger.Logger) (*repos.Inventory, error) {
	if cfg.Repos.Root != "" {
		return repos.Scan(cfg.Repos.Root, log)
	}
	path := cfg.Project.Path
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		path = wd
	}
	return repos.Single(path, cfg.Project.Name), nil
}

func (g *Gateway) buildAdapter(mode string, log *logger.Logger) (transport.Adapter, error) {
	switch mode {
	case "cli":
		return clitransport.New(log), nil
	case "slack":
		return slack.New(g.cfg.Slack, g.router, transport.NewDeduper(g.cfg.DedupTTL()), log), nil
	case "discord":
		return discord.New(g.cfg.Discord, g.router, log), nil
	case "telegram":
		return telegram.New(g.cfg.Telegram, log), nil
	case "feishu":
		return feishu.New(g.cfg.Feishu, transport.NewDeduper(g.cfg.DedupTTL()), log), nil
	case "whatsapp":
		return whatsapp.New(g.cfg.WhatsApp.Wacli, transport.NewDeduper(g.cfg.DedupTTL()), log), nil
	default:
		return nil, fmt.Errorf("unknown transport mode %q", mode)
	}
}

// Run starts the adapter, the observer fan-out, and the HTTP server, then
// blocks until ctx is cancelled or the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	unsubscribe, err := g.events.Subscribe("*", g.hub.broadcast)
	if err != nil {
		return fmt.Errorf("failed to subscribe observer stream: %w", err)
	}
	defer unsubscribe()

	if err := g.adapter.Start(ctx, g); err != nil {
		return fmt.Errorf("failed to start %s adapter: %w", g.adapter.Name(), err)
	}
	g.logger.Info("transport started", zap.String("mode", g.adapter.Name()))

	grp, runCtx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		g.logger.Info("http server listening", zap.String("addr", g.server.Addr))
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	grp.Go(func() error {
		// Unblocks the server goroutine: shutdown() makes ListenAndServe
		// return ErrServerClosed.
		<-runCtx.Done()
		g.shutdown()
		return nil
	})
	return grp.Wait()
}

func (g *Gateway) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := g.server.Shutdown(shutdownCtx); err != nil {
		g.logger.Warn("http shutdown failed", zap.Error(err))
	}
	g.hub.close()
	g.mgr.Shutdown()
	g.events.Close()
	if err := g.flush(shutdownCtx); err != nil {
		g.logger.Warn("trace flush failed", zap.Error(err))
	}
	g.logger.Info("gateway stopped")
}

// Inbound implementation

// HandleMessage implements transport.Inbound.
func (g *Gateway) HandleMessage(ctx context.Context, target transport.ChatTarget, text string) *acp.Response {
	g.rememberTarget(target)
	return g.disp.Dispatch(ctx, target.UserID, target.ContextID, text)
}

// HandleSelection implements transport.Inbound. The option id from a button
// press goes through the same matching as a typed reply.
func (g *Gateway) HandleSelection(ctx context.Context, target transport.ChatTarget, requestID, optionID string) *acp.Response {
	g.rememberTarget(target)
	if resp := g.mgr.TryResolveInteraction(ctx, target.UserID, target.ContextID, optionID); resp != nil {
		return resp
	}
	return &acp.Response{Success: false, Message: i18n.T("interaction.none")}
}

func (g *Gateway) rememberTarget(target transport.ChatTarget) {
	g.mu.Lock()
	g.targets[targetKey(target.UserID, target.ContextID)] = target
	g.mu.Unlock()
}

func (g *Gateway) targetFor(userID, contextID string) (transport.ChatTarget, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.targets[targetKey(userID, contextID)]
	return t, ok
}

func targetKey(userID, contextID string) string {
	return userID + ":" + contextID
}

// Outbound fan-out

func (g *Gateway) onTaskComplete(s *session.Session, t *task.Task, resp *acp.Response) {
	target, ok := g.targetFor(s.UserID, s.ContextID)
	if !ok {
		g.logger.Warn("no chat target for completed task", zap.String("session_id", s.ID))
		return
	}
	if err := g.adapter.RenderResponse(target, resp); err != nil {
		g.logger.Error("failed to render task result", zap.Error(err),
			zap.String("session_id", s.ID))
	}
}

// OnPermissionRequest implements session.Listener.
func (g *Gateway) OnPermissionRequest(s *session.Session, requestID string, req *protocol.RequestPermissionParams) {
	target, ok := g.targetFor(s.UserID, s.ContextID)
	if !ok {
		g.logger.Warn("no chat target for permission request", zap.String("session_id", s.ID))
		return
	}
	if err := g.adapter.RenderPermission(target, requestID, req); err != nil {
		g.logger.Error("failed to render permission request", zap.Error(err),
			zap.String("request_id", requestID))
	}
}

// OnSelectionPrompt implements session.Listener.
func (g *Gateway) OnSelectionPrompt(s *session.Session, requestID string, sel *session.SelectionPrompt) {
	target, ok := g.targetFor(s.UserID, s.ContextID)
	if !ok {
		return
	}
	if err := g.adapter.RenderSelection(target, requestID, sel); err != nil {
		g.logger.Error("failed to render selection prompt", zap.Error(err),
			zap.String("request_id", requestID))
	}
}

func (g *Gateway) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"transport": g.adapter.Name(),
		"time":      time.Now().UTC().Format(time.RFC3339),
	})
}
