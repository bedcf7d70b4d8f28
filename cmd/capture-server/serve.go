package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/phonesplat/capture/capture"
	"github.com/phonesplat/capture/config"
	"github.com/phonesplat/capture/logger"
	prometheusmetrics "github.com/phonesplat/capture/metrics/prometheus"
	"github.com/phonesplat/capture/server"
	"github.com/phonesplat/capture/status"
	"github.com/phonesplat/capture/validate"
	"github.com/phonesplat/capture/version"
)

var (
	configFile      string
	flagHost        string
	flagPort        int
	flagCapturesDir string
)

const (
	// validationReportName is the per-session report written after scoring.
	validationReportName = "validation.json"

	// publishTimeout bounds one Redis publish so a slow broker cannot stall
	// the stats reporter.
	publishTimeout = 2 * time.Second
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	applyOverrides(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	version.LogStartup()

	writer := capture.NewWriter(cfg.Writer.QueueSize, cfg.Writer.Workers)
	store, err := capture.NewStore(cfg.CapturesDir, writer,
		capture.WithDrainTimeout(cfg.DrainTimeout()))
	if err != nil {
		closeWriter(writer, cfg.DrainTimeout())
		return err
	}

	srv := server.New(store,
		server.WithHost(cfg.Host),
		server.WithPort(cfg.Port),
		server.WithMaxClients(cfg.Server.MaxClients),
		server.WithStatsInterval(cfg.StatsInterval()),
	)

	metricsEnabled := cfg.Metrics.Addr != ""
	var exporter *prometheusmetrics.Exporter
	if metricsEnabled {
		exporter = prometheusmetrics.NewExporter(cfg.Metrics.Addr)
		registerMetricsObserver(srv)

		go func() {
			if err := exporter.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics exporter stopped unexpectedly", "error", err)
			}
		}()
		logger.Info("📈 Metrics exporter listening", "addr", cfg.Metrics.Addr)
	}

	var publisher *status.RedisPublisher
	if cfg.Redis.Addr != "" {
		publisher, err = status.NewRedisPublisher(cfg.Redis.Addr,
			status.WithChannel(cfg.Redis.Channel))
		if err != nil {
			// Stats publishing is auxiliary; the capture itself proceeds.
			logger.Error("Redis stats publishing disabled", "addr", cfg.Redis.Addr, "error", err)
			publisher = nil
		} else {
			registerStatsPublisher(srv, publisher)
			logger.Info("📡 Publishing stats to Redis", "addr", cfg.Redis.Addr, "channel", publisher.Channel())
		}
	}

	validations := registerSessionValidation(srv, cfg, metricsEnabled)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(); err != nil {
		closeWriter(writer, cfg.DrainTimeout())
		return err
	}

	<-ctx.Done()
	stop()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown incomplete", "error", err)
	}

	closeWriter(writer, cfg.DrainTimeout())
	waitValidations(validations, cfg.ShutdownTimeout())

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Warn("Failed to close Redis publisher", "error", err)
		}
	}
	if exporter != nil {
		if err := exporter.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to stop metrics exporter", "error", err)
		}
	}

	logger.Info("👋 Capture server stopped")
	return nil
}

// applyOverrides copies set flags over the loaded configuration.
func applyOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Host = flagHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = flagPort
	}
	if cmd.Flags().Changed("captures-dir") {
		cfg.CapturesDir = flagCapturesDir
	}
}

// registerMetricsObserver mirrors server events into the Prometheus metrics.
func registerMetricsObserver(srv *server.Server) {
	obs := prometheusmetrics.NewObserver()
	srv.OnConnect(obs.ClientConnected)
	srv.OnDisconnect(obs.ClientDisconnected)
	srv.OnFrame(obs.FrameReceived)
	srv.OnFrameDropped(obs.FrameDropped)
	srv.OnSessionStart(obs.SessionStarted)
	srv.OnSessionEnd(obs.SessionEnded)
	srv.OnStats(obs.StatsReported)
}

// registerStatsPublisher forwards each periodic stats snapshot to Redis.
func registerStatsPublisher(srv *server.Server, publisher *status.RedisPublisher) {
	srv.OnStats(func(stats capture.Stats) {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := publisher.Publish(ctx, stats); err != nil {
			logger.Warn("Failed to publish stats", "channel", publisher.Channel(), "error", err)
		}
	})
}

// registerSessionValidation scores every finished session in the background
// and drops a validation.json report next to its data. The returned WaitGroup
// tracks in-flight validations for shutdown.
func registerSessionValidation(srv *server.Server, cfg *config.Config, recordMetric bool) *sync.WaitGroup {
	opts := validate.DefaultOptions()
	opts.MinFrames = cfg.Validation.MinFrames
	opts.SoftGapSec = cfg.Validation.SoftGapSec
	opts.HardGapSec = cfg.Validation.HardGapSec
	opts.MinDurationSec = cfg.Validation.MinDurationSec

	var validations sync.WaitGroup
	srv.OnSessionEnd(func(sessionID string, _ capture.Stats) {
		dir := filepath.Join(cfg.CapturesDir, sessionID)
		validations.Add(1)
		go func() {
			defer validations.Done()
			validateFinishedSession(dir, opts, recordMetric)
		}()
	})
	return &validations
}

func validateFinishedSession(dir string, opts validate.Options, recordMetric bool) {
	result := validate.ValidateSession(dir, opts)
	logger.ValidationCompleted(result.SessionID, result.QualityScore, result.IsValid,
		len(result.Errors), len(result.Warnings))
	if recordMetric {
		prometheusmetrics.RecordQualityScore(result.QualityScore)
	}
	if err := result.WriteFile(filepath.Join(dir, validationReportName)); err != nil {
		logger.Error("Failed to write validation report", "session_id", result.SessionID, "error", err)
	}
}

func closeWriter(writer *capture.Writer, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := writer.Close(ctx); err != nil {
		logger.Error("Writer pool close incomplete", "pending", writer.Pending(), "error", err)
	}
}

// waitValidations blocks until in-flight validations finish, bounded so a
// huge session cannot hold up process exit.
func waitValidations(wg *sync.WaitGroup, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn("Validation still running at shutdown")
	}
}
