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

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mark3labs/mcp-go/server"
	"github.com/nats-io/nats.go"

	"github.com/btouchard/chime/internal/auth"
	"github.com/btouchard/chime/internal/config"
	"github.com/btouchard/chime/internal/cue"
	"github.com/btouchard/chime/internal/directory"
	"github.com/btouchard/chime/internal/dispatch"
	"github.com/btouchard/chime/internal/hub"
	chimemcp "github.com/btouchard/chime/internal/mcp"
	authmw "github.com/btouchard/chime/internal/mcp/middleware"
	"github.com/btouchard/chime/internal/metrics"
	"github.com/btouchard/chime/internal/notify"
	"github.com/btouchard/chime/internal/permission"
	"github.com/btouchard/chime/internal/realtime"
	"github.com/btouchard/chime/internal/store"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "version":
		fmt.Printf("chime %s\n", version)
	case "check":
		cmdCheck(os.Args[2:])
	case "rotate-token":
		cmdRotateToken(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: chime <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve         Watch for new messages and notify\n")
	fmt.Fprintf(os.Stderr, "  check         Validate configuration\n")
	fmt.Fprintf(os.Stderr, "  rotate-token  Generate a new API token\n")
	fmt.Fprintf(os.Stderr, "  version       Print version\n")
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	slog.Info("starting chime",
		"version", version,
		"app", cfg.App.ID,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"driver", cfg.Realtime.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	if cfg.Identity.UserID == "" {
		fmt.Fprintln(os.Stderr, "warning: identity.user_id is empty, no messages will be watched")
	}
	if cfg.Notifications.Sound.Enabled {
		if _, err := os.Stat(cfg.Notifications.Sound.Path); err != nil {
			fmt.Fprintf(os.Stderr, "warning: sound cue not readable: %v\n", err)
		}
	}

	fmt.Println("configuration is valid")
}

func cmdRotateToken(args []string) {
	fs := flag.NewFlagSet("rotate-token", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	tok, err := auth.RotateToken(cfg.Auth.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rotating token: %v\n", err)
		os.Exit(1)
	}

	if cfg.Auth.APIToken != "" {
		fmt.Fprintln(os.Stderr, "warning: auth.api_token is set and takes precedence over the generated token")
	}
	fmt.Println(tok)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch cfg.Server.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlers := []slog.Handler{
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
	}

	if cfg.Server.LogFile != "" {
		f, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			slog.Warn("failed to open log file, using stdout only", "path", cfg.Server.LogFile, "error", err)
		} else {
			handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
		}
	}

	logger := slog.New(slog.NewMultiHandler(handlers...))
	slog.SetDefault(logger)
}

func run(ctx context.Context, cfg *config.Config) error {
	startedAt := time.Now()

	// --- SQLite Store ---
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	slog.Info("database opened", "path", cfg.Database.Path)

	met := metrics.New()

	// --- Directory ---
	var (
		dir     directory.Directory
		members directory.MembershipSource
	)
	if cfg.Directory.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.Directory.PostgresURL)
		if err != nil {
			return fmt.Errorf("connecting to directory database: %w", err)
		}
		defer pool.Close()

		pg := directory.NewPostgresDirectory(pool)
		dir, members = pg, pg

		if cfg.Directory.Cache.RedisAddr != "" {
			rdb := directory.NewRedisClient(cfg.Directory.Cache.RedisAddr)
			defer func() { _ = rdb.Close() }()
			dir = directory.NewCachedDirectory(pg, rdb, cfg.Directory.Cache.TTL)
			slog.Info("directory cache enabled", "addr", cfg.Directory.Cache.RedisAddr)
		}
	} else {
		slog.Warn("directory.postgres_url is empty, sender and group names fall back to defaults")
	}

	// --- App client hub ---
	h := hub.New(cfg.Server.AllowedOrigins...)

	// --- Notifiers ---
	var (
		native    notify.Notifier
		nativeReq permission.NativeRequester
		browser   notify.Notifier
		browserRq permission.BrowserRequester
	)
	if cfg.Notifications.Ntfy.Enabled {
		actionURL := ""
		if cfg.Server.PublicURL != "" {
			actionURL = cfg.Server.PublicURL + "/actions/native"
		}
		n := notify.NewNtfyNotifier(cfg.Notifications.Ntfy.Server, cfg.Notifications.Ntfy.Topic, cfg.Notifications.Ntfy.Token, actionURL)
		native, nativeReq = n, n
	}
	if cfg.Notifications.Browser.Enabled {
		browser, browserRq = notify.NewBrowserNotifier(h), h
	}
	chain := notify.NewChain(native, browser)
	slog.Info("notifiers configured", "chain", chain.Names())

	// --- Permission ---
	perm := permission.NewManager(nativeReq, browserRq)
	perm.OnAction(func(groupID, source string) {
		met.Action(source)
		if err := db.RecordAction(&store.ActionRecord{GroupID: groupID, Source: source}); err != nil {
			slog.Warn("recording notification action", "error", err)
		}
	})
	h.OnClick(func(_ string, data map[string]string) {
		perm.HandleAction(data, "browser")
	})
	initPermission(ctx, perm, cfg.Notifications.PermissionTimeout)

	// --- Realtime feed ---
	feed, closeFeed, err := openFeed(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFeed()

	var disp *dispatch.Dispatcher
	subs := realtime.NewManager(feed, func(ctx context.Context, ev realtime.Event) {
		disp.Dispatch(ctx, ev, cfg.Identity.UserID, perm.State())
	})
	defer subs.Shutdown()

	// --- MCP Server ---
	mcpServer := chimemcp.NewServer(&chimemcp.Deps{
		Store:         db,
		Permission:    perm,
		Subscriptions: subs,
		Clients:       h,
		Notifiers:     chain.Names(),
		Version:       version,
		StartedAt:     startedAt,
	})
	mcpHTTP := server.NewStreamableHTTPServer(mcpServer)

	// --- Dispatcher ---
	deps := dispatch.Deps{
		Directory: dir,
		Notifier:  chain,
		Recorder:  db,
		Observer:  notify.NewMCPNotifier(mcpServer, 3*time.Second),
		Metrics:   met,
	}
	if cfg.Notifications.Sound.Enabled {
		player := cue.NewPlayer(cfg.Notifications.Sound.Player, cfg.Notifications.Sound.Path)
		defer player.Stop()
		deps.Sound = player
	}
	if cfg.Notifications.Haptics.Enabled {
		deps.Haptics = h
	}
	disp = dispatch.New(deps, dispatch.Options{
		Icon:        cfg.Notifications.Browser.Icon,
		Badge:       cfg.Notifications.Browser.Badge,
		Sound:       filepath.Base(cfg.Notifications.Sound.Path),
		HapticStyle: cfg.Notifications.Haptics.Style,
		Delay:       cfg.Notifications.Delay,
		DedupWindow: cfg.Notifications.DedupWindow,
	})
	chain.OnFailure(disp.NotifierFailed)

	// --- Background loops ---
	watcher := &membershipWatcher{
		identity:    cfg.Identity,
		subs:        subs,
		members:     members,
		perm:        perm,
		permTimeout: cfg.Notifications.PermissionTimeout,
		met:         met,
	}
	go watcher.run(ctx)
	go cleanupLoop(ctx, db, time.Duration(cfg.Database.RetentionDays)*24*time.Hour)

	// --- API token ---
	token, created, err := auth.ResolveToken(cfg.Auth.APIToken, cfg.Auth.DataDir)
	if err != nil {
		return fmt.Errorf("resolving api token: %w", err)
	}
	if created {
		slog.Info("generated api token", "path", auth.TokenPath(cfg.Auth.DataDir))
	}

	// --- HTTP Router ---
	r := chi.NewRouter()
	r.Use(authmw.SecurityHeaders)

	r.Handle("/ws", h)
	r.Post("/actions/native", perm.ActionHandler())
	r.Handle("/metrics", met.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authmw.BearerAuth(token))
		r.Handle("/mcp", mcpHTTP)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// --- HTTP Server ---
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("chime is ready", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// openFeed connects the configured message feed.
func openFeed(ctx context.Context, cfg *config.Config) (realtime.Feed, func(), error) {
	switch cfg.Realtime.Driver {
	case "nats":
		nc, err := nats.Connect(cfg.Realtime.NATSURL,
			nats.Name("chime"),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to nats: %w", err)
		}
		slog.Info("realtime feed connected", "driver", "nats", "subject_prefix", cfg.Realtime.SubjectPrefix)
		return realtime.NewNATSFeed(nc, cfg.Realtime.SubjectPrefix), func() { _ = nc.Drain() }, nil

	default:
		if cfg.Realtime.PostgresURL == "" {
			return nil, nil, errors.New("realtime.postgres_url is required for the postgres driver")
		}
		pool, err := pgxpool.New(ctx, cfg.Realtime.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to realtime database: %w", err)
		}
		feed := realtime.NewPostgresFeed(pool, cfg.Realtime.ChannelPrefix)
		if cfg.Realtime.InstallTrigger {
			if err := feed.InstallTrigger(ctx, realtime.MessagesTable); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("installing message trigger: %w", err)
			}
			slog.Info("message notify trigger installed", "table", realtime.MessagesTable)
		}
		slog.Info("realtime feed connected", "driver", "postgres", "channel_prefix", cfg.Realtime.ChannelPrefix)
		return feed, pool.Close, nil
	}
}

// cleanupLoop prunes the notification log once an hour.
func cleanupLoop(ctx context.Context, db store.Store, retention time.Duration) {
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		if err := db.Cleanup(retention); err != nil {
			slog.Warn("pruning notification log", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
