// Command dde-zone is the hot corner daemon. It exports the four corner
// actions on the session bus as com.deepin.daemon.Zone and persists them to
// the com.deepin.dde.zone settings schema on shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/linuxdeepin/dde-zone/internal/api"
	"github.com/linuxdeepin/dde-zone/internal/dbusapi"
	"github.com/linuxdeepin/dde-zone/internal/events"
	"github.com/linuxdeepin/dde-zone/internal/settings"
	"github.com/linuxdeepin/dde-zone/internal/zone"
)

type options struct {
	backend      string
	configDir    string
	busAddress   string
	busName      string
	pollInterval time.Duration
	httpAddr     string
	strict       bool
	debug        bool
}

// shutdownSignals end the daemon through the normal flush path. SIGHUP
// arrives on session teardown.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}

func main() {
	o, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	// Configure logging
	logLevel := slog.LevelInfo
	if o.debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	if err := run(o); err != nil {
		slog.Error("dde-zone: fatal", "err", err)
		os.Exit(1)
	}
}

// parseFlags registers the daemon flags on fs and parses args.
func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var o options
	fs.StringVar(&o.backend, "backend", "gsettings", "settings backend: gsettings, file or memory")
	fs.StringVar(&o.configDir, "config-dir", "", "settings directory for the file backend (default: ~/.config/deepin/dde-zone)")
	fs.StringVar(&o.busAddress, "bus-address", "", "D-Bus address (default: session bus)")
	fs.StringVar(&o.busName, "bus-name", dbusapi.BusName, "well-known bus name to claim")
	fs.DurationVar(&o.pollInterval, "poll-interval", dbusapi.DefaultPollInterval, "receive loop poll interval")
	fs.StringVar(&o.httpAddr, "http", "", "listen address for the local inspection API (disabled if empty)")
	fs.BoolVar(&o.strict, "strict-config", false, "exit if the settings backend is unavailable")
	fs.BoolVar(&o.debug, "debug", false, "enable debug logging")
	err := fs.Parse(args)
	return o, err
}

func run(o options) error {
	// Graceful shutdown context
	ctx, cancel := signal.NotifyContext(context.Background(), shutdownSignals...)
	defer cancel()

	backend, err := newBackend(ctx, o)
	if err != nil {
		if o.strict || !errors.Is(err, settings.ErrUnavailable) {
			return err
		}
		slog.Warn("settings backend unavailable, actions will not persist", "backend", o.backend, "err", err)
		backend = settings.NewMemBackend(settings.ZoneSchema)
	}

	bus := events.NewBus()

	z, err := zone.New(backend, bus)
	if err != nil {
		if o.strict {
			return fmt.Errorf("load settings: %w", err)
		}
		slog.Warn("zone: could not load actions, using defaults", "err", err)
	}
	// Registered before anything else can fail so every exit path below
	// flushes the actions exactly once.
	defer z.Close()

	if w, ok := backend.(settings.Watcher); ok {
		go func() {
			err := w.Watch(ctx, func(key, value string) {
				z.ApplyExternal(key, value)
			})
			if err != nil {
				slog.Warn("settings: change watcher stopped", "err", err)
			}
		}()
	}

	conn, err := dbusapi.Dial(ctx, o.busAddress)
	if err != nil {
		return fmt.Errorf("connect to bus: %w", err)
	}
	svc := dbusapi.NewService(conn, dbusapi.NewDispatcher(z), dbusapi.Config{
		BusName:      o.busName,
		PollInterval: o.pollInterval,
	})
	defer svc.Close()

	if err := svc.Start(); err != nil {
		return err
	}
	go svc.Forward(ctx, bus)

	if o.httpAddr != "" {
		srv := &http.Server{
			Addr:         o.httpAddr,
			Handler:      api.NewRouter(z, bus),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // 0 = no timeout (needed for SSE)
			IdleTimeout:  120 * time.Second,
		}
		go func() {
			slog.Info("api: listening", "addr", o.httpAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("api: server error", "err", err)
			}
		}()
		defer func() {
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutCancel()
			if err := srv.Shutdown(shutCtx); err != nil {
				slog.Warn("api: shutdown error", "err", err)
			}
		}()
	}

	slog.Info("dde-zone running", "name", o.busName, "backend", o.backend)
	err = svc.Run(ctx)
	slog.Info("shutting down...")
	if errors.Is(err, dbusapi.ErrDisconnected) {
		return err
	}
	return nil
}

func newBackend(ctx context.Context, o options) (settings.Backend, error) {
	switch o.backend {
	case "file":
		dir := o.configDir
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("%w: cannot determine home directory: %v", settings.ErrUnavailable, err)
			}
			dir = filepath.Join(home, ".config", "deepin", "dde-zone")
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: %v", settings.ErrUnavailable, err)
		}
		slog.Info("settings: using file backend", "dir", dir)
		return settings.NewFileBackend(dir, settings.ZoneSchema), nil
	case "gsettings":
		b := settings.NewGSettingsBackend(settings.ZoneSchema)
		if err := b.Check(ctx); err != nil {
			return nil, err
		}
		return b, nil
	case "memory":
		return settings.NewMemBackend(settings.ZoneSchema), nil
	}
	return nil, fmt.Errorf("unknown backend %q", o.backend)
}
