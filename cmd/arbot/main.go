package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/arsanchez/arbot/config"
	"github.com/arsanchez/arbot/internal/adapters/notify"
	"github.com/arsanchez/arbot/internal/adapters/storage"
	"github.com/arsanchez/arbot/internal/adapters/venue"
	"github.com/arsanchez/arbot/internal/application/engine"
	"github.com/arsanchez/arbot/internal/domain"
	"github.com/arsanchez/arbot/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("arbot starting, ctrl+c once to exit gracefully",
		"config", *configPath,
		"maker", cfg.Maker.Name,
		"taker", cfg.Taker.Name,
		"time_to_live", cfg.TimeToLive(),
	)

	maker, err := openVenue(cfg.Maker)
	if err != nil {
		slog.Error("failed to open maker venue", "err", err)
		os.Exit(1)
	}
	taker, err := openVenue(cfg.Taker)
	if err != nil {
		slog.Error("failed to open taker venue", "err", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer repo.Close()

	console := notify.NewConsole()
	var notifier ports.Notifier = console
	if cfg.Notify.Channel == "telegram" {
		notifier = notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
	}

	robot := engine.New(maker, taker, repo, notifier, engine.Config{
		Buying: engine.SideParams{
			Value:  cfg.Trading.Buying.Value,
			Profit: cfg.Trading.Buying.Profit,
			FxRate: cfg.Trading.Buying.FxRate,
		},
		Selling: engine.SideParams{
			Value:  cfg.Trading.Selling.Value,
			Profit: cfg.Trading.Selling.Profit,
			FxRate: cfg.Trading.Selling.FxRate,
		},
		TimeToLive:      cfg.TimeToLive(),
		CloseTimeToLive: cfg.CloseTimeToLive(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(robot, cancel)

	err = robot.Run(ctx)

	printSummary(console, repo)

	if err != nil && ctx.Err() == nil {
		slog.Error("robot exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("arbot stopped cleanly")
}

// handleSignals implements the two-stage interrupt: the first asks the robot
// to wind down in-flight flows, the second forces termination.
func handleSignals(robot *engine.Robot, cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	<-sigs
	slog.Info("shutting down as soon as in-flight flows are settled, ctrl+c again to force")
	robot.RequestShutdown()

	<-sigs
	slog.Warn("forced shutdown")
	cancel()
	os.Exit(1)
}

func openVenue(cfg config.VenueConfig) (ports.Venue, error) {
	return venue.Open(cfg.Name, venue.Settings{
		Pair:   cfg.Pair,
		APIKey: cfg.APIKey,
		Extra:  cfg.Extra,
	})
}

// printSummary dumps whatever is still in flight so the operator knows what
// to reconcile by hand.
func printSummary(console *notify.Console, repo *storage.SQLiteRepository) {
	ctx := context.Background()
	var opening []domain.OpeningFlow
	var closing []domain.ClosingFlow
	var positions []domain.OpenPosition

	for _, side := range []domain.Side{domain.SideBuy, domain.SideSell} {
		if flows, err := repo.ActiveOpeningFlows(ctx, side); err == nil {
			opening = append(opening, flows...)
		}
		if flows, err := repo.ActiveClosingFlows(ctx, side); err == nil {
			closing = append(closing, flows...)
		}
		if ps, err := repo.UnclaimedPositions(ctx, side); err == nil {
			positions = append(positions, ps...)
		}
	}
	console.Summary(opening, closing, positions)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
