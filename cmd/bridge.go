package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/ringclaw/internal/bus"
	"github.com/nextlevelbuilder/ringclaw/internal/channels"
	"github.com/nextlevelbuilder/ringclaw/internal/channels/ringcentral"
	"github.com/nextlevelbuilder/ringclaw/internal/config"
	"github.com/nextlevelbuilder/ringclaw/internal/sessions"
	"github.com/nextlevelbuilder/ringclaw/internal/store"
)

func runBridge() {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if !cfg.Channels.RingCentral.Enabled || len(cfg.Channels.RingCentral.Accounts) == 0 {
		slog.Error("no ringcentral account configured; set channels.ringcentral in the config file or export RINGCENTRAL_CLIENT_ID / RINGCENTRAL_CLIENT_SECRET / RINGCENTRAL_JWT")
		os.Exit(1)
	}

	workspace := cfg.WorkspacePath()
	if !filepath.IsAbs(workspace) {
		workspace, _ = filepath.Abs(workspace)
	}
	if err := os.MkdirAll(workspace, 0755); err != nil {
		slog.Error("failed to create workspace", "path", workspace, "error", err)
		os.Exit(1)
	}

	msgBus := bus.NewMessageBus()
	manager := channels.NewManager(msgBus)

	meta, err := sessions.NewMetaStore(config.ExpandHome(cfg.Sessions.Storage))
	if err != nil {
		slog.Error("failed to open session store", "error", err)
		os.Exit(1)
	}
	pairing, err := store.NewFilePairingStore(filepath.Join(workspace, "pairing.json"))
	if err != nil {
		slog.Error("failed to open pairing store", "error", err)
		os.Exit(1)
	}

	// Subscription health flows onto the bus so an embedding gateway
	// can observe it.
	sink := func(st ringcentral.Status) {
		msgBus.Broadcast(bus.Event{Name: "channel.status", Payload: st})
	}

	bridge := ringcentral.NewBridge(msgBus, manager, meta, pairing, sink, slog.Default())
	if err := bridge.Configure(cfg); err != nil {
		slog.Error("bridge configuration failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
		os.Exit(1)
	}

	go watchConfig(ctx, cfgPath, bridge)

	slog.Info("ringclaw bridge running", "config", cfgPath, "workspace", workspace)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutdown signal received")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := manager.StopAll(stopCtx); err != nil {
		slog.Warn("channel shutdown incomplete", "error", err)
	}
	cancel()
}

// watchConfig reloads the config on file changes and restarts accounts
// whose credentials changed. Writes are debounced because editors fire
// several events per save.
func watchConfig(ctx context.Context, cfgPath string, bridge *ringcentral.Bridge) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("config watch unavailable", "error", err)
		return
	}
	defer watcher.Close()

	// Watch the directory: editors replace files via rename, which
	// drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(cfgPath)); err != nil {
		slog.Warn("config watch failed", "error", err)
		return
	}

	var debounce *time.Timer
	target := filepath.Clean(cfgPath)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, func() {
				cfg, err := config.Load(cfgPath)
				if err != nil {
					slog.Warn("config reload failed", "error", err)
					return
				}
				slog.Info("config changed, checking credentials")
				bridge.ReloadCredentials(ctx, cfg)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Debug("config watch error", "error", err)
		}
	}
}
