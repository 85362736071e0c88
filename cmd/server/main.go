package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	router "github.com/dkeye/camrelay/internal/adapters/http"
	"github.com/dkeye/camrelay/internal/app"
	"github.com/dkeye/camrelay/internal/app/orch"
	"github.com/dkeye/camrelay/internal/config"
	"github.com/dkeye/camrelay/internal/domain"
	"github.com/dkeye/camrelay/internal/metrics"
	"github.com/dkeye/camrelay/internal/upload"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	if err := os.MkdirAll(cfg.RecordingsDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.RecordingsDir).Msg("recordings dir")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	uploads := upload.NewPipeline(afero.NewBasePathFs(afero.NewOsFs(), cfg.RecordingsDir), upload.Config{
		MaxChunk: cfg.MaxChunkBytes,
		Metrics:  m,
	})
	o := orch.New(uploads, orch.Options{
		Legacy:     cfg.LegacyBroadcast,
		ICEServers: domain.ICEServers(cfg.ICEServers),
		Policy:     app.SimplePolicy{},
		Metrics:    m,

		ResyncTimeout:    cfg.ResyncTimeout,
		UploadAckTimeout: cfg.UploadAckTimeout,
	})

	r := router.SetupRouter(ctx, cfg, o, reg)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("recordings", cfg.RecordingsDir).Msg("relay started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// Sinks first so no recording is left half open, then the listener.
	err = multierr.Append(o.Shutdown(), srv.Shutdown(shutdownCtx))
	if err != nil {
		log.Error().Err(err).Msg("unclean shutdown")
	}
	log.Info().Msg("Server exited")
}

func setupLogger(cfg *config.Config) {
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
