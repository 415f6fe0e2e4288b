// fixcore daemon -- FIX session persistence and replay core.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/quantrail/fixcore/internal/agent"
	"github.com/quantrail/fixcore/internal/archive"
	"github.com/quantrail/fixcore/internal/config"
	"github.com/quantrail/fixcore/internal/indexer"
	"github.com/quantrail/fixcore/internal/metrics"
	"github.com/quantrail/fixcore/internal/ordlog"
	"github.com/quantrail/fixcore/internal/replayer"
	"github.com/quantrail/fixcore/internal/replayindex"
	"github.com/quantrail/fixcore/internal/sessionctx"
	appversion "github.com/quantrail/fixcore/internal/version"
)

// shutdownTimeout is the maximum time to wait for the metrics server to
// drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)

		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("fixcore starting",
		slog.String("version", appversion.Version),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	engine, err := buildEngine(cfg, collector, logger)
	if err != nil {
		logger.Error("failed to build engine", slog.String("error", err.Error()))

		return 1
	}
	defer engine.Close(logger)

	if err := runEngine(cfg, engine, reg, logger); err != nil {
		logger.Error("fixcore exited with error", slog.String("error", err.Error()))

		return 1
	}

	logger.Info("fixcore stopped")

	return 0
}

// engine holds every long-lived component the daemon wires together, so
// main can close them in one place regardless of how startup failed.
type engine struct {
	sessions     *sessionctx.Store
	log          ordlog.Log
	index        *replayindex.Manager
	completion   *agent.CompletionSignal
	sentStreamID int32
	ix           *indexer.Indexer
	rp           *replayer.Replayer
	watcher      *replayer.ResendWatcher
	sentArchive  *archive.DutyCycleScanner
	recvArchive  *archive.DutyCycleScanner
}

// buildEngine constructs every agent named in spec.md §4: the session
// context store, the durable ordered log, the replay index, the
// indexer, the replayer and its resend watcher, and an archive scanner
// per direction.
func buildEngine(cfg *config.Config, collector *metrics.Collector, logger *slog.Logger) (*engine, error) {
	sessions, err := sessionctx.Open(sessionctx.Options{
		Path:       cfg.Contexts.Path,
		FileSize:   cfg.Contexts.FileSize,
		SectorSize: cfg.Contexts.SectorSize,
		ErrorSink: func(err error) {
			collector.IncSectorCRCFailures("contexts")
			logger.Error("session contexts store error", slog.String("error", err.Error()))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open session contexts store: %w", err)
	}

	log := ordlog.NewMemLog()

	index := replayindex.NewManager(cfg.Index.Dir, cfg.Index.FileSize, cfg.Index.CacheCapacity, func(err error) {
		collector.IncSectorCRCFailures("replay_index")
		logger.Error("replay index store error", slog.String("error", err.Error()))
	})

	completion := agent.NewCompletionSignal()

	ix, err := indexer.New(log, cfg.Streams.SentStreamID, []indexer.Index{
		indexer.ReplayIndexAdapter{Manager: index},
	}, completion)
	if err != nil {
		_ = sessions.Close()

		return nil, fmt.Errorf("start indexer: %w", err)
	}

	rp, err := replayer.New(log, index, cfg.Streams.SentStreamID)
	if err != nil {
		_ = ix.Close()
		_ = sessions.Close()

		return nil, fmt.Errorf("start replayer: %w", err)
	}

	watcher, err := replayer.NewResendWatcher(log, cfg.Streams.ReceivedStreamID, rp)
	if err != nil {
		_ = rp.Close()
		_ = ix.Close()
		_ = sessions.Close()

		return nil, fmt.Errorf("start resend watcher: %w", err)
	}

	sentArchive := archive.NewDutyCycleScanner(
		archive.New(log, archive.DirectionSent, cfg.Streams.SentStreamID),
		func(msg archive.Message) {
			collector.IncArchiveScans(archive.DirectionSent.String())
		},
	)

	recvArchive := archive.NewDutyCycleScanner(
		archive.New(log, archive.DirectionReceived, cfg.Streams.ReceivedStreamID),
		func(msg archive.Message) {
			collector.IncArchiveScans(archive.DirectionReceived.String())
		},
	)

	return &engine{
		sessions:     sessions,
		log:          log,
		index:        index,
		completion:   completion,
		sentStreamID: cfg.Streams.SentStreamID,
		ix:           ix,
		rp:           rp,
		watcher:      watcher,
		sentArchive:  sentArchive,
		recvArchive:  recvArchive,
	}, nil
}

// declareCompletion tells the indexer the highest position the sent
// stream will reach, using the current recording's stop position
// observed at shutdown -- a best-effort bound, not a guarantee that no
// further fragment lands after it, since the replayer's own runner
// goroutine stops concurrently rather than before this one runs.
func declareCompletion(e *engine, logger *slog.Logger) {
	recordingID, ok := e.log.CurrentRecording(e.sentStreamID)
	if !ok {
		e.completion.Declare(map[int32]int64{})

		return
	}

	stop, err := e.log.StopPosition(recordingID)
	if err != nil {
		logger.Warn("failed to read stop position for completion", slog.String("error", err.Error()))
		e.completion.Declare(map[int32]int64{})

		return
	}

	e.completion.Declare(map[int32]int64{e.sentStreamID: stop})
}

// Close releases every component's resources, logging but not
// propagating individual failures (spec.md §7 "the core never throws
// across agent boundaries").
func (e *engine) Close(logger *slog.Logger) {
	closers := []struct {
		name string
		fn   func() error
	}{
		{"resend_watcher", e.watcher.Close},
		{"replayer", e.rp.Close},
		{"indexer", e.ix.Close},
		{"replay_index", e.index.Close},
		{"ordered_log", e.log.Close},
		{"sessions", e.sessions.Close},
	}

	for _, c := range closers {
		if err := c.fn(); err != nil {
			logger.Warn("close failed", slog.String("component", c.name), slog.String("error", err.Error()))
		}
	}
}

// runEngine starts every duty-cycle agent under one errgroup, serves the
// metrics endpoint, and blocks until a termination signal arrives, then
// quiesces the indexer before returning.
func runEngine(cfg *config.Config, e *engine, reg *prometheus.Registry, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)

		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	runners := []*agent.Runner{
		agent.NewRunner("indexer", e.ix, agent.NewBackoffIdleStrategy(time.Millisecond, 100*time.Millisecond), logger),
		agent.NewRunner("resend_watcher", e.watcher, agent.NewBackoffIdleStrategy(time.Millisecond, 100*time.Millisecond), logger),
		agent.NewRunner("archive_sent", e.sentArchive, agent.NewBackoffIdleStrategy(10*time.Millisecond, time.Second), logger),
		agent.NewRunner("archive_received", e.recvArchive, agent.NewBackoffIdleStrategy(10*time.Millisecond, time.Second), logger),
	}

	for _, r := range runners {
		g.Go(func() error {
			return r.Run(gCtx)
		})
	}

	g.Go(func() error {
		<-gCtx.Done()

		return gracefulShutdown(gCtx, e, metricsSrv, logger)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run engine: %w", err)
	}

	return nil
}

// gracefulShutdown declares completion at the log's current stop
// position for the streams the indexer watches -- spec.md §4.2 names
// the completion signal as coming from an external actor that knows no
// more publishers will append, which on a SIGINT/SIGTERM shutdown is
// this process itself -- then quiesces the indexer (§4.2 "quiesce")
// before shutting down the metrics server. The parent context is
// already cancelled; a fresh timeout context is derived for the drain.
func gracefulShutdown(ctx context.Context, e *engine, metricsSrv *http.Server, logger *slog.Logger) error {
	logger.Info("initiating graceful shutdown")

	declareCompletion(e, logger)

	quiesceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := e.ix.Quiesce(quiesceCtx); err != nil {
		logger.Warn("indexer quiesce failed", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel2 := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel2()

	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}

	return nil
}

func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}

	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}

		return cfg, nil
	}

	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler

	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
