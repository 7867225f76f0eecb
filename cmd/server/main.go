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
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/one2many/internal/adapters/http"
	"github.com/dkeye/one2many/internal/adapters/lifecycle"
	"github.com/dkeye/one2many/internal/adapters/metrics"
	"github.com/dkeye/one2many/internal/adapters/rtc"
	signaling "github.com/dkeye/one2many/internal/adapters/signal"
	"github.com/dkeye/one2many/internal/app"
	"github.com/dkeye/one2many/internal/app/orch"
	"github.com/dkeye/one2many/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Err(err).Str("log_level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	promReg := prometheus.NewRegistry()
	reg := app.NewRegistry(app.PolicyFor(cfg.Presenters.Multi))
	m := metrics.New(promReg, reg)

	var sink lifecycle.Sink = lifecycle.LogSink{}
	if cfg.Lifecycle.AMQPURL != "" {
		publisher := lifecycle.NewAMQPPublisher(cfg.Lifecycle.AMQPURL, cfg.Lifecycle.Exchange)
		defer publisher.Close()
		sink = publisher
	}
	recorder := lifecycle.NewAsyncRecorder(sink, cfg.Lifecycle.Workers, cfg.Lifecycle.QueueSize)
	recorder.Dropped = m.LifecycleDropped

	gateway := rtc.NewGateway(rtc.Dial(rtc.EngineOptions{
		ICEServers:  cfg.Engine.ICEServers,
		UDPPortMin:  cfg.Engine.UDPPortMin,
		UDPPortMax:  cfg.Engine.UDPPortMax,
		PLIInterval: cfg.Engine.PLIInterval,
	}))

	candidates := app.NewCandidateQueue()
	candidates.Limit = cfg.Signal.MaxQueuedCandidates

	o := &orch.Orchestrator{
		Registry:   reg,
		Candidates: candidates,
		Engine:     gateway,
		Lifecycle:  recorder,
		Observer:   m,
		Timeout:    cfg.Engine.Timeout,
		Recording: orch.RecordingOptions{
			Enabled:     cfg.Recording.Enabled,
			Dir:         cfg.Recording.Dir,
			RotateEvery: cfg.Recording.RotateEvery,
		},
	}

	ctrl := signaling.NewSignalWSController(o, signaling.NewRateLimiter(cfg.Signal.RateLimit, cfg.Signal.RateInterval), signaling.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
	})
	ctrl.Conns = m.Connections

	r := router.SetupRouter(ctx, cfg, ctrl, reg, promReg)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return recorder.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", addr).Bool("tls", cfg.TLS.Enabled()).Msg("one2many server started")
		var err error
		if cfg.TLS.Enabled() {
			err = srv.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}
