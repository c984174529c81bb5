package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/z-tavern/roleplay/internal/audio"
	"github.com/zhouzirui/z-tavern/roleplay/internal/config"
	"github.com/zhouzirui/z-tavern/roleplay/internal/event"
	"github.com/zhouzirui/z-tavern/roleplay/internal/handler"
	settingsHandler "github.com/zhouzirui/z-tavern/roleplay/internal/handler/settings"
	"github.com/zhouzirui/z-tavern/roleplay/internal/metrics"
	chatmodel "github.com/zhouzirui/z-tavern/roleplay/internal/model/chat"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/persona"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/ai"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/chat"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/effects"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/orchestrator"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/playback"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/speech"
	"github.com/zhouzirui/z-tavern/roleplay/internal/settings"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var m *metrics.Metrics
	if cfg.Server.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
	}

	bus := event.NewBus()
	defer bus.Clear()

	personaStore, err := loadPersonas(cfg.PersonasFile, logger)
	if err != nil {
		return err
	}

	gen := newGenerator(ctx, cfg, logger, m)

	// Speech pipeline
	elevenlabs := speech.NewClient(speech.ClientConfig{
		APIKey:  cfg.Speech.APIKey,
		BaseURL: cfg.Speech.BaseURL,
		ModelID: cfg.Speech.ModelID,
		Timeout: cfg.Speech.Timeout,
	}, logger)
	if !cfg.Speech.Enabled() {
		logger.Warn("ELEVENLABS_API_KEY not configured, replies will not be spoken")
	}
	synth := speech.NewSynthesizer(elevenlabs, speech.Options{Timeout: cfg.Speech.Timeout, Logger: logger, Metrics: m})

	speechOut, effectsOut, err := newOutputs(cfg.Audio, bus)
	if err != nil {
		return err
	}

	player := playback.NewPlayer(synth, speechOut, playback.Options{
		Limit:     cfg.Speech.CharacterLimit,
		WarnRatio: cfg.Speech.WarnRatio,
		Usage:     elevenlabs,
		Events:    bus,
		Logger:    logger,
		Metrics:   m,
	})
	defer player.Close()

	registry, err := effects.LoadDir(cfg.Effects.SoundsDir, logger)
	if err != nil {
		logger.Warn("sound effects unavailable", zap.Error(err))
		registry = effects.NewRegistry()
	}
	cues := effects.NewPlayer(registry, effectsOut, effects.Options{Events: bus, Logger: logger, Metrics: m})
	defer cues.Close()

	// Persisted preferences
	store, err := newSettingsStore(cfg.Settings)
	if err != nil {
		return err
	}
	defer store.Close()

	initial, err := settings.Load(ctx, store)
	if err != nil {
		logger.Warn("settings unreadable, using defaults", zap.Error(err))
	}
	prefs := settingsHandler.New(store, initial, player, cues, bus, logger)

	session := chat.NewSession(gen, chat.Options{Events: bus, Logger: logger})
	orch := orchestrator.New(ctx, player, cues, orchestrator.Options{
		TypingDuration: cfg.Effects.TypingDuration,
		Logger:         logger,
	})
	orch.Attach(bus)
	defer orch.Detach()

	deps := handler.Deps{
		Personas:    personaStore,
		Session:     session,
		Player:      player,
		Settings:    prefs,
		Bus:         bus,
		Metrics:     m,
		Logger:      logger,
		CORSOrigins: cfg.Server.CORSOrigins,
		Health: func() map[string]any {
			return map[string]any{
				"ai":     cfg.AI.Enabled(),
				"speech": cfg.Speech.Enabled(),
				"sounds": registry.Len(),
			}
		},
	}
	if cfg.Speech.Enabled() {
		deps.Voices = elevenlabs
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("roleplay server listening", zap.String("addr", srv.Addr))
		return runServer(gctx, srv)
	})
	if cfg.Speech.Enabled() {
		g.Go(func() error {
			syncCtx, cancel := context.WithTimeout(gctx, 10*time.Second)
			defer cancel()
			if usage, err := player.SyncUsage(syncCtx); err == nil {
				logger.Info("speech usage", zap.Int("used", usage.Used), zap.Int("limit", usage.Limit))
			}
			return nil
		})
	}
	return g.Wait()
}

func loadPersonas(path string, logger *zap.Logger) (persona.Store, error) {
	if path == "" {
		return persona.NewMemoryStore(persona.Seed()), nil
	}
	items, err := persona.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load personas: %w", err)
	}
	logger.Info("personas loaded", zap.String("file", path), zap.Int("count", len(items)))
	return persona.NewMemoryStore(items), nil
}

func newGenerator(ctx context.Context, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) chat.Generator {
	if !cfg.AI.Enabled() {
		logger.Warn("AI provider credentials not configured, replies fall back to the in-character notice",
			zap.String("provider", cfg.AI.Provider))
		return unavailableGenerator{}
	}

	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err == nil {
		opts := cfg.AI.GeneratorOptions(cfg.Speech.PlainWordLimit)
		opts.Logger = logger
		opts.Metrics = m
		var gen *ai.Generator
		if gen, err = ai.NewGenerator(ctx, chatModel, opts); err == nil {
			logger.Info("AI generator initialized", zap.String("provider", gen.Provider()))
			return gen
		}
	}
	logger.Warn("failed to initialize AI generator", zap.Error(err))
	return unavailableGenerator{}
}

// unavailableGenerator fails every turn so the session records the fallback.
type unavailableGenerator struct{}

func (unavailableGenerator) Generate(context.Context, string, persona.Persona, []chatmodel.Message) (ai.Reply, error) {
	return ai.Reply{}, &ai.GenerationError{Cause: ai.CauseCredentials, Err: errors.New("no text backend configured")}
}

func newOutputs(cfg config.AudioConfig, pub event.Publisher) (speechOut, effectsOut audio.Output, err error) {
	var out audio.Output = audio.NewTimedOutput()
	if cfg.Output == config.OutputCommand {
		name, args, err := audio.ParseCommand(cfg.PlayerCmd)
		if err != nil {
			return nil, nil, fmt.Errorf("audio player command: %w", err)
		}
		cmd, err := audio.NewCommandOutput(name, args)
		if err != nil {
			return nil, nil, err
		}
		out = cmd
	}
	return audio.Announce(out, pub, "speech"), audio.Announce(out, pub, "effects"), nil
}

func newSettingsStore(cfg config.SettingsConfig) (settings.Store, error) {
	switch cfg.Backend {
	case config.SettingsMemory:
		return settings.NewMemoryStore(), nil
	case config.SettingsRedis:
		store, err := settings.NewRedisStore(settings.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("settings store: %w", err)
		}
		return store, nil
	default:
		return settings.NewFileStore(cfg.File), nil
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
