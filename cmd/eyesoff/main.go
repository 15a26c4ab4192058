package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/ayusman/eyesoff/internal/app"
	"github.com/ayusman/eyesoff/internal/config"
	"github.com/ayusman/eyesoff/internal/events"
	"github.com/ayusman/eyesoff/internal/hook"
	"github.com/ayusman/eyesoff/internal/metrics"
	"github.com/ayusman/eyesoff/internal/present"
	"github.com/ayusman/eyesoff/internal/server"
	"github.com/ayusman/eyesoff/internal/store"
	"github.com/ayusman/eyesoff/internal/tray"
)

func main() {
	var (
		configPath = flag.String("config", config.Path(), "Configuration file (.toml, .yaml or .json)")
		addr       = flag.String("addr", "", "HTTP listen address (overrides server.addr)")
		headless   = flag.Bool("headless", false, "Run without the system tray")
		noStart    = flag.Bool("no-start", false, "Do not start monitoring at launch")
		debug      = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	loader := config.NewLoader(*configPath, nil)
	cfg, err := loader.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger := newLogger(cfg.Logging, *debug)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cancel, loader, cfg, *headless, *noStart, logger); err != nil {
		logger.Error("eyesoff failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc, loader *config.Loader, cfg *config.Config, headless, noStart bool, logger *slog.Logger) error {
	m := metrics.New()

	var st *store.Store
	if cfg.Storage.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		var err error
		st, err = store.New(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
	}

	recorder := newRecorder(cfg, st, m, logger)
	if recorder != nil {
		defer recorder.Close()
	}

	runner := newHookRunner(cfg, logger)
	if runner != nil {
		defer runner.Close()
	}

	fanout := present.NewFanout(logger.With("component", "present"))
	defer fanout.Shutdown()
	if n, err := present.NewDBusNotifier("EyesOff"); err != nil {
		logger.Info("desktop notifications unavailable, logging instead", "error", err)
		fanout.AddNotifier(present.NewLogSurface(logger))
	} else {
		fanout.AddNotifier(n)
	}

	a, err := app.New(app.Options{
		Config:    cfg,
		Presenter: fanout,
		Store:     st,
		Recorder:  recorder,
		Hooks:     runner,
		Metrics:   m,
		Logger:    logger.With("component", "app"),
	})
	if err != nil {
		return err
	}
	defer a.Stop()

	loader.OnChange(func(c *config.Config) {
		if err := a.ApplyConfig(c); err != nil {
			logger.Warn("reloaded configuration rejected", "error", err)
		}
	})
	if err := loader.Watch(ctx); err != nil {
		logger.Warn("config hot reload disabled", "error", err)
	}
	defer loader.Close()

	if cfg.Server.Enabled {
		hub := server.NewOverlayHub(func() {
			if err := a.DismissAlert(); err != nil && !errors.Is(err, app.ErrNotRunning) {
				logger.Warn("dismiss from overlay page failed", "error", err)
			}
		}, logger.With("component", "overlay"))
		fanout.AddOverlay(hub)

		srv := server.New(server.Config{
			StaticDir:  findWebDir(cfg.Server.StaticDir),
			Monitor:    a,
			Store:      st,
			Overlay:    hub,
			Metrics:    m.Handler(),
			SaveConfig: func(c *config.Config) error { return config.Save(c, loader.Path()) },
			Context:    ctx,
			Logger:     logger.With("component", "http"),
		})
		go func() {
			if err := srv.Run(ctx, cfg.Server.Addr); err != nil {
				logger.Error("http server failed", "error", err)
			}
		}()
	}

	if !noStart {
		if err := a.Start(ctx); err != nil {
			// Stay up so the configuration can be fixed over the API or tray.
			logger.Error("could not start monitoring", "error", err)
		}
	}

	if headless {
		fanout.AddOverlay(present.NewLogSurface(logger))
		logger.Info("eyesoff running", "surfaces", fanout.Surfaces())
		<-ctx.Done()
		return nil
	}

	t := tray.New(ctx, a, logger.With("component", "tray"))
	fanout.AddOverlay(t)
	if cfg.Server.Enabled {
		url := "http://" + browserAddr(cfg.Server.Addr)
		t.OnSettings(func() {
			if err := openBrowser(url); err != nil {
				logger.Warn("open settings failed", "url", url, "error", err)
			}
		})
	}
	t.OnQuit(cancel)
	go func() {
		<-ctx.Done()
		t.Quit()
	}()

	logger.Info("eyesoff running", "surfaces", fanout.Surfaces())
	// systray needs the main goroutine.
	t.Run()
	return nil
}

func newLogger(c config.LoggingConfig, debug bool) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newRecorder records alert events to the store and NATS, whichever are
// configured. It returns nil when neither is.
func newRecorder(cfg *config.Config, st *store.Store, m *metrics.Metrics, logger *slog.Logger) *events.Recorder {
	var sinks events.Multi
	if st != nil {
		sinks = append(sinks, events.NewStoreSink(st))
	}
	if cfg.Events.NATSURL != "" {
		ns, err := events.DialNATS(cfg.Events.NATSURL, cfg.Events.Subject, logger)
		if err != nil {
			logger.Warn("alert events will not be published", "url", cfg.Events.NATSURL, "error", err)
		} else {
			sinks = append(sinks, ns)
		}
	}
	if len(sinks) == 0 {
		return nil
	}
	return events.NewRecorder(sinks, events.DefaultQueueSize,
		events.WithLogger(logger.With("component", "events")),
		events.WithDropHook(func() { m.EventsDropped.Add(1) }))
}

// newHookRunner loads the hooks bound to alerts. Problems are logged and
// leave hooks disabled.
func newHookRunner(cfg *config.Config, logger *slog.Logger) *hook.Runner {
	if len(cfg.Hooks.OnAlert) == 0 {
		return nil
	}
	mgr := hook.NewManager(cfg.Hooks.Dir)
	if err := mgr.Discover(); err != nil {
		logger.Warn("hook discovery failed", "dir", cfg.Hooks.Dir, "error", err)
		return nil
	}
	runner, err := hook.NewRunner(mgr, hook.NewExecutor(cfg.HookTimeout()), cfg.Hooks.OnAlert, logger.With("component", "hooks"))
	if err != nil {
		logger.Warn("alert hooks disabled", "error", err)
		return nil
	}
	return runner
}

// findWebDir returns configured if set, else the first of "web", "../web"
// and <config dir>/web that exists.
func findWebDir(configured string) string {
	if configured != "" {
		return configured
	}
	for _, p := range []string{"web", "../web", filepath.Join(config.Dir(), "web")} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}

// browserAddr turns a listen address into one a browser can open.
func browserAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	return addr
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
