// Command ghostlog records Twitch chat for a configured set of channels into one append-only
// log file per channel.
// It:
//   - Loads settings from the environment (optionally a .env file) and the channel file.
//   - Opens <log_path>/<channel>.txt for every channel and joins them over IRC.
//   - Writes PRIVMSG, CLEARCHAT, CLEARMSG, ROOMSTATE and USERNOTICE records, printing everything else.
//   - Reloads the channel file on SIGHUP or POST /reload without restarting.
//   - Optionally mirrors records into Postgres (DB_DSN) and serves /healthz, /readyz, /status, /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/ghostlog/chat"
	"github.com/onnwee/ghostlog/config"
	"github.com/onnwee/ghostlog/db"
	"github.com/onnwee/ghostlog/recorder"
	"github.com/onnwee/ghostlog/server"
	"github.com/onnwee/ghostlog/telemetry"
)

const version = "0.1.0"

func main() {
	flags := pflag.NewFlagSet("ghostlog", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "channel file (overrides GHOST_CONFIG, default config.yaml)")
	envFile := flags.String("env-file", ".env", "dotenv file loaded before reading the environment")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if *showVersion {
		fmt.Println("ghostlog", version)
		return
	}

	// Load .env file if present (local dev convenience only; production relies on real env)
	if err := godotenv.Load(*envFile); err != nil && flags.Changed("env-file") {
		fmt.Fprintf(os.Stderr, "error: load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *configPath != "" {
		cfg.ConfigPath = *configPath
	}

	setupLogging(cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg); err != nil {
		slog.Error("ghostlog exited with error", slog.String("kind", recorder.ClassifyError(err).String()), slog.Any("err", err))
		os.Exit(1)
	}
}

// setupLogging configures the default logger. Defaults: level=info, format=text.
func setupLogging(level, format string) {
	lvl := slog.LevelInfo
	unknown := false
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		unknown = true
	}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		format = "json"
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	if unknown {
		slog.Warn("unknown LOG_LEVEL, using info", slog.String("value", level))
	}
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

func run(cfg *config.Config) error {
	telemetry.Init()
	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing("ghostlog", version)
	if err != nil {
		return fmt.Errorf("tracing init: %w", err)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := &config.Loader{Path: cfg.ConfigPath}
	channels, files, err := loader.Load(ctx)
	if err != nil {
		return err
	}

	opts := recorder.Options{Logger: slog.Default()}
	var deps server.Deps
	if cfg.ArchiveEnabled() {
		database, err := db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			_ = files.Close()
			return err
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.RunMigrations(database); err != nil {
			_ = files.Close()
			return err
		}
		if version, dirty, err := db.GetMigrationVersion(database); err == nil {
			slog.Info("database schema ready", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
		}
		opts.Archive = db.NewArchive(database)
		deps.DB = database
	}

	transport := chat.NewTwitchTransport(chat.TwitchOptions{
		Username:   cfg.TwitchBotUsername,
		OAuthToken: cfg.TwitchOAuthToken,
		Address:    cfg.TwitchIRCAddress,
		Logger:     slog.Default(),
	})
	opts.Connected = transport.Connected
	rec := recorder.New(loader, transport, channels, files, opts)
	defer func() {
		if err := rec.Close(); err != nil {
			slog.Error("closing log files", slog.Any("err", err))
		}
	}()

	// Reload triggers coalesce: while one is pending, further requests are absorbed by it.
	reloads := make(chan struct{}, 1)
	requestReload := func() bool {
		select {
		case reloads <- struct{}{}:
			return true
		default:
			return false
		}
	}
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	slog.Info("starting",
		slog.Any("channels", []string(channels)),
		slog.String("log_path", files.Dir()),
		slog.Bool("anonymous", cfg.Anonymous()),
		slog.Bool("archive", cfg.ArchiveEnabled()),
	)

	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				slog.Info("SIGHUP received, reloading config")
				requestReload()
			}
		}
	})
	g.Go(func() error {
		return transport.Run(gctx, channels)
	})
	g.Go(func() error {
		// the recorder ending (stream closed or shutdown) stops everything else
		defer cancel()
		return rec.Run(gctx, transport.Events(), reloads)
	})
	if cfg.HTTPAddr != "" {
		deps.Status = rec.Status
		deps.RequestReload = requestReload
		deps.Logger = slog.Default()
		g.Go(func() error {
			return server.Start(gctx, cfg.HTTPAddr, server.NewMux(gctx, deps))
		})
	}

	err = g.Wait()
	slog.Info("shutdown complete")
	return err
}
