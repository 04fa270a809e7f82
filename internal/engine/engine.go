// Package engine wires the bridge's components into a single runnable
// process: the upstream client, the sink, the sandboxed transform host, the
// rollback-window cache and inversion engine (owned internally by
// internal/sync), and the block synchroniser driving them all.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"cdcbridge/internal/sandbox"
	"cdcbridge/internal/sink"
	"cdcbridge/internal/sync"
	"cdcbridge/internal/upstream"
	"cdcbridge/pkg/cdc"
	"cdcbridge/pkg/config"
)

// Engine owns the wired component graph and exposes Run/Stop as the single
// entry point cmd/bridge drives.
type Engine struct {
	host        *sandbox.Host
	sink        sink.Sink
	syncer      *sync.Synchroniser
	logger      *logrus.Logger
	metricsAddr string
	metricsSrv  *http.Server
}

// New builds an Engine from a loaded Config, a concrete upstream.Client, a
// concrete sink.Sink, and a transform artifact's raw bytes. The caller
// chooses the client/sink concrete types (memory vs RPC, console vs file vs
// null) so Engine itself stays decoupled from those decisions.
func New(cfg *config.Config, client upstream.Client, s sink.Sink, artifact []byte, logger *logrus.Logger) (*Engine, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	state := cdc.NewTransformState()
	limits := sandbox.Limits{MaxMemoryPages: cfg.Sandbox.MaxMemoryPages}
	host := sandbox.New(client, state, logger, limits)
	if err := host.Load(artifact); err != nil {
		return nil, fmt.Errorf("engine: load transform artifact: %w", err)
	}

	poll := time.Duration(cfg.Sync.PollIntervalMS) * time.Millisecond
	metrics := sync.NewMetrics()
	syncCfg := sync.Config{
		StartHeight:    cfg.Sync.StartHeight,
		PollInterval:   poll,
		CacheWindow:    cfg.Sync.CacheWindow,
		Source:         cfg.Sync.Source,
		SinkMaxRetries: cfg.Sink.MaxRetries,
	}
	syncer := sync.New(client, host, s, metrics, logger, syncCfg)

	return &Engine{
		host:        host,
		sink:        s,
		syncer:      syncer,
		logger:      logger,
		metricsAddr: cfg.Sync.MetricsAddr,
	}, nil
}

// Run starts the synchroniser's background loop and, if a metrics address
// is configured, the /metrics HTTP server. It returns immediately; callers
// block on their own shutdown signal and then call Stop.
func (e *Engine) Run(ctx context.Context) {
	if e.metricsAddr != "" {
		e.metricsSrv = e.syncer.Metrics().StartServer(e.metricsAddr, e.logger)
	}
	e.syncer.Start(ctx)
}

// Stop halts the synchroniser, flushing and closing the sink, shuts down
// the metrics server if one was started, then tears down the sandbox.
func (e *Engine) Stop() {
	e.syncer.Stop()
	if e.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.syncer.Metrics().StopServer(ctx, e.metricsSrv); err != nil {
			e.logger.WithError(err).Warn("metrics server shutdown failed")
		}
	}
	e.host.Close()
}

// Metrics exposes the synchroniser's Prometheus registry for wiring into an
// HTTP /metrics handler.
func (e *Engine) Metrics() *sync.Metrics { return e.syncer.Metrics() }

// CurrentHeight reports the last height fully processed and forwarded.
func (e *Engine) CurrentHeight() uint32 { return e.syncer.CurrentHeight() }
