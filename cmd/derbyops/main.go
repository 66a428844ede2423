package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/derbyops/derbyops/internal/clock"
	"github.com/derbyops/derbyops/internal/config"
	"github.com/derbyops/derbyops/internal/db"
	"github.com/derbyops/derbyops/internal/hub"
	"github.com/derbyops/derbyops/internal/lobby"
	"github.com/derbyops/derbyops/internal/log"
	"github.com/derbyops/derbyops/internal/logmon"
	"github.com/derbyops/derbyops/internal/players"
	"github.com/derbyops/derbyops/internal/restart"
	"github.com/derbyops/derbyops/internal/schedule"
	"github.com/derbyops/derbyops/internal/scheduler"
	"github.com/derbyops/derbyops/internal/serverconfig"
	"github.com/derbyops/derbyops/internal/supervisor"
	"github.com/derbyops/derbyops/internal/web"
	"github.com/derbyops/derbyops/internal/webhook"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "derbyops",
		Short: "Supervisor and control plane for a derby-racing dedicated server",
		RunE:  run,
	}

	f := rootCmd.Flags()
	f.Int("listen-port", 8080, "HTTP port for the control API and dashboard")
	f.String("server-binary", "", "path to the dedicated server binary")
	f.String("server-working-dir", "", "working directory for the server process")
	f.String("server-config", "server_config.cfg", "path to the server config file")
	f.String("server-log", "server.log", "fallback log path when the config has no log= key")
	f.String("data-dir", "", "directory for the schedule document and history db (default: Data/ next to the server working dir)")
	f.String("webhook-url", "", "URL for activation notifications (empty disables)")
	f.String("chat-command", restart.DefaultChatCommand, "console command prefix for in-game chat")
	f.String("log-level", "info", "log level (trace, debug, info, warn, error)")

	// Bind flags to viper. Viper keys use underscores so they match the env
	// var suffix after stripping the DERBYOPS_ prefix.
	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("listen_port", "listen-port")
	bindFlag("server_binary", "server-binary")
	bindFlag("server_working_dir", "server-working-dir")
	bindFlag("server_config", "server-config")
	bindFlag("server_log", "server-log")
	bindFlag("data_dir", "data-dir")
	bindFlag("webhook_url", "webhook-url")
	bindFlag("chat_command", "chat-command")
	bindFlag("log_level", "log-level")

	viper.SetEnvPrefix("DERBYOPS")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	log.Configure(log.Config{Level: cfg.LogLevel})
	logger := log.WithComponent("main")

	dataDir := cfg.DataDir
	if dataDir == "" {
		if cfg.ServerWorkingDir != "" {
			dataDir = filepath.Join(cfg.ServerWorkingDir, "Data")
		} else {
			dataDir = "Data"
		}
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	logger.Info().
		Str("version", config.Version).
		Str("dataDir", dataDir).
		Str("serverConfig", cfg.ServerConfigPath).
		Int("port", cfg.ListenPort).
		Msg("derbyops starting")

	database, err := db.Open(filepath.Join(dataDir, "derbyops.db"))
	if err != nil {
		return fmt.Errorf("open history db: %w", err)
	}
	defer database.Close() //nolint:errcheck

	store := schedule.NewStore(dataDir)
	consoleHub := hub.New()
	bus := logmon.NewBus()

	playerTracker := players.NewTracker()
	playerTracker.Attach(bus)

	lobbyTracker := lobby.NewTracker()
	lobbyTracker.Attach(bus)

	recordConsoleEvents(bus, database)

	sup := supervisor.NewExec(supervisor.Options{
		Binary:     cfg.ServerBinary,
		WorkingDir: cfg.ServerWorkingDir,
	}, consoleHub)
	// Participant and track state describe one server run; a stopped
	// process invalidates both.
	sup.OnStop = func() {
		playerTracker.Reset()
		lobbyTracker.Reset()
	}

	clk := clock.System()
	applier := serverconfig.EventApplier{Path: cfg.ServerConfigPath}
	machine := restart.New(sup, playerTracker, applier, clk, cfg.ChatCommand)
	lobbyTracker.Subscribe(machine.OnTrackChanged)

	var notifier webhook.Notifier = webhook.Noop{}
	if cfg.WebhookURL != "" {
		notifier = webhook.NewHTTP(cfg.WebhookURL)
	}

	sched := scheduler.New(store, machine, notifier, database, clk)

	logPath := logmon.ResolveLogPath(cfg.ServerConfigPath, cfg.ServerLogFile, func(path string) (string, error) {
		basic, err := serverconfig.ReadBasic(path)
		if err != nil {
			return "", err
		}
		return basic.LogFile, nil
	})
	tailer := logmon.NewTailer(logPath, bus)

	webServer := web.New(cfg, web.Deps{
		Store:      store,
		Activator:  sched,
		Machine:    machine,
		Supervisor: sup,
		Players:    playerTracker,
		Lobby:      lobbyTracker,
		Hub:        consoleHub,
		History:    database,
		Clock:      clk,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := tailer.Start(ctx); err != nil {
		return fmt.Errorf("start log tailer: %w", err)
	}
	sched.Start(ctx)

	go func() {
		if err := webServer.Start(); err != nil {
			logger.Error().Err(err).Msg("web server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("web server shutdown")
	}
	if st := sup.Status(); st.Running {
		if err := sup.Stop(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("server process stop")
		}
	}

	<-tailer.Done()
	<-sched.Done()
	return nil
}

// recordConsoleEvents persists parsed console events to the history store.
// Insert failures are logged by the store layer's error returns; the bus
// isolates any panic.
func recordConsoleEvents(bus *logmon.Bus, database *db.DB) {
	logger := log.WithComponent("history")
	insert := func(e db.ConsoleEvent) {
		e.ObservedAt = time.Now().UTC()
		if _, err := database.InsertConsoleEvent(&e); err != nil {
			logger.Warn().Err(err).Str("kind", e.Kind).Msg("record console event failed")
		}
	}
	bus.Subscribe(logmon.Handlers{
		Join: func(name string, isBot bool) {
			insert(db.ConsoleEvent{Kind: "join", Name: &name, IsBot: isBot})
		},
		Leave: func(name string, isBot bool) {
			insert(db.ConsoleEvent{Kind: "leave", Name: &name, IsBot: isBot})
		},
		Kick: func(name string, isBot bool) {
			insert(db.ConsoleEvent{Kind: "kick", Name: &name, IsBot: isBot})
		},
		TrackLoaded: func(trackID string) {
			insert(db.ConsoleEvent{Kind: "track_loaded", TrackID: &trackID})
		},
		EventStarted: func() {
			insert(db.ConsoleEvent{Kind: "event_started"})
		},
	})
}
