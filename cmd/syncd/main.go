package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"driftsync/internal/config"
	"driftsync/internal/engine"
	"driftsync/internal/executor"
	"driftsync/internal/listener"
	"driftsync/internal/logging"
	"driftsync/internal/metrics"
	"driftsync/internal/mirror"
	"driftsync/internal/models"
	"driftsync/internal/netmon"
	"driftsync/internal/queue"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q, err := queue.Open(cfg.Queue.Path, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open action queue")
		return err
	}
	defer q.Close()

	mir := initMirror(ctx, cfg, logger)

	probeURL := cfg.Network.ProbeURL
	if probeURL == "" {
		probeURL = cfg.Executor.BaseURL
	}
	prober := netmon.NewHTTPProber(probeURL, 3*time.Second)
	source := netmon.NewPolledSource(ctx, prober, cfg.Network.ProbeInterval())
	monitor := netmon.New(source, cfg.Network.DebounceWindow(), logger)
	defer monitor.Close()

	met := metrics.New(prometheus.DefaultRegisterer)
	hub := listener.NewHub(logger)

	httpExec := executor.NewHTTPExecutor(cfg.Executor, logger)
	registry := executor.NewRegistry(httpExec)

	eng := engine.New(cfg.Sync, q, monitor, registry, hub, mir, met, logger)
	defer eng.Close()

	unsubscribe := eng.Subscribe(logState(logger))
	defer unsubscribe()

	if cfg.Monitoring.PrometheusEnabled {
		srv := monitoringServer(cfg.Monitoring.PrometheusPort, eng)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("monitoring server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info().Str("queue", cfg.Queue.Path).Msg("sync engine running")
	eng.SyncNow()

	<-ctx.Done()
	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := baseLogger.With().Str("component", "syncd").Logger()

	return cfg, &logger, closer, nil
}

func initMirror(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *mirror.Mirror {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := mirror.NewClient(cfg.Redis)
	if err := mirror.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, dead-letter mirror disabled")
		return nil
	}
	return mirror.New(client, cfg.Redis, logger)
}

func logState(logger *zerolog.Logger) listener.Callback {
	return func(state models.SyncState) {
		logger.Debug().
			Bool("online", state.IsOnline).
			Bool("syncing", state.IsSyncing).
			Int("pending", state.PendingCount).
			Msg("sync state")
	}
}

func monitoringServer(port int, eng *engine.Engine) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, eng.SyncState())
	})

	mux.HandleFunc("/pending", func(w http.ResponseWriter, r *http.Request) {
		actions, err := eng.PendingActions(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, actions)
	})

	mux.HandleFunc("/failed", func(w http.ResponseWriter, r *http.Request) {
		actions, err := eng.FailedActions(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, actions)
	})

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
