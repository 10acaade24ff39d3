package app

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	mathrand "math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/radiolith/jamguard/internal/channel"
	"github.com/radiolith/jamguard/internal/classify"
	"github.com/radiolith/jamguard/internal/monitor"
	"github.com/radiolith/jamguard/internal/report"
	"github.com/radiolith/jamguard/internal/secure"
	"github.com/radiolith/jamguard/internal/signal"
	"github.com/radiolith/jamguard/internal/spectrum"
	"github.com/radiolith/jamguard/internal/storage"
	"github.com/radiolith/jamguard/internal/telemetry"
)

const storageDir = "data"

// The run loop buffers completed cycles and reports aggregate link health
// every time a block of this size is released.
const (
	historyCapacity   = 64
	historyFlushCount = 16
)

// Run wires the monitoring pipeline together and drives recovery
// cycles until the context is cancelled or the configured cycle count
// is reached.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	seed, err := resolveSeed(config.Settings.Seed)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	logger.Info("Monitoring run starting",
		slog.String("runId", runID),
		slog.Int64("seed", seed))

	src := mathrand.NewPCG(uint64(seed), uint64(seed))
	rng := mathrand.New(src)

	gen, err := signal.NewGenerator(src)
	if err != nil {
		return fmt.Errorf("creating signal generator: %w", err)
	}

	scorer, err := spectrum.NewScorer(config.Detection.Threshold)
	if err != nil {
		return fmt.Errorf("creating scorer: %w", err)
	}

	knn, trainingDuration, err := trainClassifier(ctx, config, gen)
	if err != nil {
		return err
	}
	logger.Info("Classifier trained", slog.Duration("took", trainingDuration))

	state, err := channelState(config, rng)
	if err != nil {
		return err
	}

	transport, err := secure.NewChannel()
	if err != nil {
		return fmt.Errorf("creating secure channel: %w", err)
	}

	store, err := createStorage(&config.Storage)
	if err != nil {
		return fmt.Errorf("creating storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage", slog.Any("error", err))
		}
	}()

	sessionID, err := store.CreateSession(ctx, storage.SessionInfo{
		RunID:       runID,
		StartedAt:   time.Now().UTC(),
		Seed:        seed,
		Frequency:   config.Link.Frequency,
		NoiseLevel:  config.Link.NoiseLevel,
		Threshold:   config.Detection.Threshold,
		ChannelPlan: config.Channels.Plan,
		Config:      config,
	})
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	coord, err := monitor.New(scorer, knn, state, transport,
		monitor.WithLogger(logger),
		monitor.WithRecorder(monitor.RecorderFunc(func(ctx context.Context, result *monitor.CycleResult) error {
			return store.RecordCycle(ctx, sessionID, result)
		})),
	)
	if err != nil {
		return fmt.Errorf("creating monitor: %w", err)
	}

	history, err := monitor.NewHistory(historyCapacity, historyFlushCount)
	if err != nil {
		return fmt.Errorf("creating cycle history: %w", err)
	}

	var metrics *telemetry.Collector
	if config.Metrics.Enabled {
		metrics = telemetry.New(newRegistry())
		metrics.SetTrainingDuration(trainingDuration)

		shutdown := serveMetrics(metrics, config.Metrics.Listen, logger)
		defer shutdown()
	}

	var publisher *report.Publisher
	if config.Report.Enabled {
		publisher, err = report.New(report.Config{
			Broker:   config.Report.Broker,
			Topic:    config.Report.Topic,
			Username: config.Report.Username,
			Password: config.Report.Password,
			QoS:      config.Report.QoS,
		}, runID, logger)
		if err != nil {
			return err
		}
		defer publisher.Close()
	}

	logger.Info("Link monitoring started",
		slog.Float64("frequency", config.Link.Frequency),
		slog.Float64("noiseLevel", config.Link.NoiseLevel),
		slog.Int("channel", int(state.Current())))

	ticker := time.NewTicker(time.Duration(config.Link.Interval))
	defer ticker.Stop()

	var completed int
	for {
		waveform, err := gen.Generate(config.Link.Frequency, config.Link.NoiseLevel)
		if err != nil {
			return fmt.Errorf("generating waveform: %w", err)
		}

		result, err := coord.Cycle(ctx, monitor.Request{
			Waveform:   waveform,
			Frequency:  config.Link.Frequency,
			NoiseLevel: config.Link.NoiseLevel,
		})
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			logRunSummary(logger, coord.Status(), history)
			return nil
		case errors.Is(err, monitor.ErrIntegrityFault):
			// The cycle is aborted but the link keeps hopping.
			if metrics != nil {
				metrics.ObserveSecureFailure()
			}
		case err != nil:
			return fmt.Errorf("running recovery cycle: %w", err)
		default:
			if metrics != nil {
				metrics.ObserveCycle(result)
			}
			if publisher != nil {
				publisher.PublishCycle(result)
			}
			if err := history.Insert(result); err != nil {
				return fmt.Errorf("buffering cycle result: %w", err)
			}
			if history.IsFull() {
				logRecentWindow(logger, history.Flush())
			}
			completed++
		}

		if config.Link.Cycles > 0 && completed >= config.Link.Cycles {
			logRunSummary(logger, coord.Status(), history)
			return nil
		}

		select {
		case <-ctx.Done():
			logRunSummary(logger, coord.Status(), history)
			return nil
		case <-ticker.C:
		}
	}
}

// resolveSeed returns the configured seed, or draws one from the
// system entropy source when the configuration leaves it at zero.
func resolveSeed(configured int64) (int64, error) {
	if configured != 0 {
		return configured, nil
	}

	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("drawing random seed: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(b[:]) & math.MaxInt64), nil
}

func trainClassifier(ctx context.Context, config *Config, gen *signal.Generator) (*classify.KNN, time.Duration, error) {
	knn, err := classify.NewKNN(config.Classifier.Neighbors)
	if err != nil {
		return nil, 0, fmt.Errorf("creating classifier: %w", err)
	}

	trainingSet, err := classify.BuildTrainingSet(gen, classify.TrainingConfig{
		CleanCount:  config.Classifier.CleanCount,
		JammedCount: config.Classifier.JammedCount,
		Frequency:   config.Link.Frequency,
		CleanNoise:  config.Classifier.CleanNoise,
		JammedNoise: config.Classifier.JammedNoise,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("building training set: %w", err)
	}

	trainCtx, cancel := context.WithTimeout(ctx, time.Duration(config.Classifier.TrainTimeout))
	defer cancel()

	start := time.Now()
	if err := knn.Fit(trainCtx, trainingSet); err != nil {
		return nil, 0, fmt.Errorf("training classifier: %w", err)
	}
	return knn, time.Since(start), nil
}

func channelState(config *Config, rng *mathrand.Rand) (*channel.State, error) {
	state, err := channel.NewState(config.Channels.Plan, rng)
	if err != nil {
		return nil, fmt.Errorf("creating channel state: %w", err)
	}
	return state, nil
}

func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	return registry
}

func serveMetrics(metrics *telemetry.Collector, listen string, logger *slog.Logger) (shutdown func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{Addr: listen, Handler: mux}
	go func() {
		logger.Info("Serving metrics", slog.String("listen", listen))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", slog.Any("error", err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Failed to shut down metrics server", slog.Any("error", err))
		}
	}
}

func createStorage(config *StorageConfig) (*storage.Store, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current working directory: %w", err)
	}

	dbDir := filepath.Join(wd, storageDir)
	if config.DataDirectory != "" {
		dbDir = config.DataDirectory
		if !filepath.IsAbs(dbDir) {
			dbDir = filepath.Join(wd, dbDir)
		}
	}

	stat, err := os.Stat(dbDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage directory '%s' does not exist: %w", dbDir, err)
		}
		return nil, fmt.Errorf("checking storage directory '%s': %w", dbDir, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("invalid storage directory '%s'", dbDir)
	}

	dbPath := filepath.Join(dbDir, fmt.Sprintf("jamguard_session_%s.sqlite", time.Now().UTC().Format("20060102_150405")))
	return storage.New(dbPath), nil
}

func logRunSummary(logger *slog.Logger, status monitor.Status, history *monitor.History) {
	logRecentWindow(logger, history.DrainAll())
	logger.Info("Monitoring run finished",
		slog.Int64("cycles", status.Cycles),
		slog.Int64("secureFailures", status.SecureFailures),
		slog.Int("channel", int(status.Channel)))
}

// logRecentWindow reports aggregate link health over a block of cycles
// released from the history buffer. Silent when the block is empty.
func logRecentWindow(logger *slog.Logger, window []*monitor.CycleResult) {
	if len(window) == 0 {
		return
	}

	var anomalous, switched int
	var peakSum float64
	for _, result := range window {
		if result.Anomalous || result.Jammed {
			anomalous++
		}
		if result.Switched {
			switched++
		}
		peakSum += result.PeakAmplitude
	}

	logger.Info("Recent link health",
		slog.Int64("firstSequence", window[0].Sequence),
		slog.Int64("lastSequence", window[len(window)-1].Sequence),
		slog.Int("cycles", len(window)),
		slog.Int("anomalous", anomalous),
		slog.Int("switched", switched),
		slog.Float64("meanPeakAmplitude", peakSum/float64(len(window))))
}
