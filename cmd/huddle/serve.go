package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/huddle/internal/archive"
	"github.com/MrWong99/huddle/internal/config"
	"github.com/MrWong99/huddle/internal/discord"
	"github.com/MrWong99/huddle/internal/discord/commands"
	"github.com/MrWong99/huddle/internal/health"
	"github.com/MrWong99/huddle/internal/meeting"
	"github.com/MrWong99/huddle/internal/observe"
	"github.com/MrWong99/huddle/internal/transcript"
	"github.com/MrWong99/huddle/internal/transcript/postgres"
	"github.com/MrWong99/huddle/pkg/audio"
)

// shutdownTimeout bounds ending all meetings, which builds and archives
// their recordings.
const shutdownTimeout = 2 * time.Minute

// loadConfig loads the file at path with a friendlier message when it is
// missing.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found", path)
	}
	return cfg, err
}

// serve runs the bot until ctx is done or the gateway connection fails,
// then ends every meeting.
func serve(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(os.Stderr, cfg.Server.LogFormat, &level))

	slog.Info("huddle starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	ps, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}

	var checkers []health.Checker

	// ── Transcript sink ───────────────────────────────────────────────────────
	var store transcript.Store
	if dsn := cfg.Transcripts.PostgresDSN; dsn != "" {
		pg, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			return fmt.Errorf("open transcript store: %w", err)
		}
		defer pg.Close()
		store = pg
		checkers = append(checkers, health.Checker{Name: "transcripts", Check: pg.Ping})
	}

	// ── Archive ───────────────────────────────────────────────────────────────
	arch, err := buildArchive(ctx, cfg.Archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	// ── Discord bot ───────────────────────────────────────────────────────────
	bot, err := discord.New(ctx, discord.Config{
		Token:           cfg.Discord.Token,
		GuildID:         cfg.Discord.GuildID,
		ModeratorRoleID: cfg.Discord.ModeratorRoleID,
		RelayChannelID:  cfg.Discord.RelayChannelID,
	})
	if err != nil {
		return fmt.Errorf("create discord bot: %w", err)
	}
	checkers = append(checkers, health.Checker{Name: "discord", Check: bot.Ready})

	reg.RegisterAudio("discord", func(config.ProviderEntry) (audio.Platform, error) {
		return bot.Platform(), nil
	})
	platform, err := reg.CreateAudio(cfg.Providers.Audio)
	if err != nil {
		_ = bot.Close()
		return fmt.Errorf("create audio platform: %w", err)
	}

	// ── Meetings ──────────────────────────────────────────────────────────────
	var cmds *commands.MeetingCommands
	mgr, err := meeting.NewManager(meeting.Config{
		Platform:    platform,
		Transcriber: ps.STT,
		Synthesizer: ps.TTS,
		LLM:         ps.LLM,
		Store:       store,
		Archive:     arch,
		Settings:    cfg.MeetingSettings(),
		OnEnded:     func(s *meeting.Summary) { cmds.Ended(s) },
		Metrics:     metrics,
	})
	if err != nil {
		_ = bot.Close()
		return fmt.Errorf("create meeting manager: %w", err)
	}

	cmds = commands.NewMeetingCommands(commands.Config{
		API:              bot.API(),
		Meetings:         mgr,
		Moderators:       bot.Moderators(),
		VoiceChannel:     bot.VoiceChannel,
		GuildID:          bot.GuildID(),
		SummaryChannelID: bot.RelayChannelID(),
	})
	cmds.Register(bot.Router())

	bot.OnMessage(discord.NewChatRelay(discord.RelayConfig{
		API:       bot.API(),
		GuildID:   bot.GuildID(),
		ChannelID: bot.RelayChannelID(),
		Lookup: func(guildID string) (discord.Relayer, bool) {
			m, ok := mgr.ByGuild(guildID)
			if !ok {
				return nil, false
			}
			return m, true
		},
	}))

	// ── Health and metrics ────────────────────────────────────────────────────
	hh := health.New(checkers...)
	var srv *http.Server
	if cfg.Server.ListenAddr != "" {
		srv = newHTTPServer(cfg.Server.ListenAddr, hh, metrics)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "err", err)
				stop()
			}
		}()
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(configPath, func(old, new *config.Config) {
		applyReload(config.Diff(old, new), new, &level, mgr)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	runErr := make(chan error, 1)
	go func() { runErr <- bot.Run(ctx) }()

	slog.Info("server ready, press Ctrl+C to shut down")

	var errs []error
	select {
	case <-ctx.Done():
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("discord bot: %w", err))
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down, ending active meetings", "active", len(mgr.Active()))
	hh.Drain()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := mgr.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("end meetings: %w", err))
	}
	if err := bot.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close discord bot: %w", err))
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop http server: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	slog.Info("goodbye")
	return nil
}

// buildArchive opens the configured archive. [config.ArchiveNone] yields a
// nil store; recordings then stay in the work directory.
func buildArchive(ctx context.Context, cfg config.ArchiveConfig) (archive.Store, error) {
	switch cfg.Kind {
	case config.ArchiveLocal:
		return archive.NewLocal(cfg.Dir)
	case config.ArchiveS3:
		return archive.NewS3FromEnv(ctx, archive.S3Options{
			Bucket:   cfg.Bucket,
			Prefix:   cfg.Prefix,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
		})
	}
	return nil, nil
}

// newHTTPServer serves the health probes and the Prometheus metrics.
func newHTTPServer(addr string, hh *health.Handler, metrics *observe.Metrics) *http.Server {
	mux := http.NewServeMux()
	hh.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// applyReload applies the parts of a changed config that take effect
// without a restart.
func applyReload(d config.ConfigDiff, cfg *config.Config, level *slog.LevelVar, mgr *meeting.Manager) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.MeetingSettingsChanged() {
		mgr.UpdateSettings(cfg.MeetingSettings())
		slog.Info("meeting settings reloaded; running meetings keep their settings", "sections", d.SettingsChanged)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(w io.Writer, format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
