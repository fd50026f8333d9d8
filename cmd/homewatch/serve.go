package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/alfredjeanlab/homewatch/internal/auth"
	"github.com/alfredjeanlab/homewatch/internal/broadcast"
	"github.com/alfredjeanlab/homewatch/internal/config"
	"github.com/alfredjeanlab/homewatch/internal/detect"
	"github.com/alfredjeanlab/homewatch/internal/eventlog"
	"github.com/alfredjeanlab/homewatch/internal/events"
	"github.com/alfredjeanlab/homewatch/internal/model"
	"github.com/alfredjeanlab/homewatch/internal/motion"
	"github.com/alfredjeanlab/homewatch/internal/notify"
	"github.com/alfredjeanlab/homewatch/internal/retention"
	"github.com/alfredjeanlab/homewatch/internal/server"
	"github.com/alfredjeanlab/homewatch/internal/snapshot"
	"github.com/alfredjeanlab/homewatch/internal/store"
	_ "github.com/alfredjeanlab/homewatch/internal/store/postgres"
	_ "github.com/alfredjeanlab/homewatch/internal/store/sqlite"
	eventsync "github.com/alfredjeanlab/homewatch/internal/sync"
	"github.com/alfredjeanlab/homewatch/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the homewatch server",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Load configuration.
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
		slog.SetDefault(logger)

		ctx := context.Background()

		// Open the archive.
		st, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer closeLogged(logger, "store", st.Close)

		snaps, err := openSnapshots(ctx, cfg.Snapshots)
		if err != nil {
			return err
		}

		// Create event publisher.
		var publisher events.Publisher = &events.NoopPublisher{}
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				return err
			}
			publisher = pub
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			logger.Info("events disabled (HOMEWATCH_NATS_URL not set)")
		}
		defer closeLogged(logger, "publisher", publisher.Close)

		notifier := notify.New(cfg.Notify.WebhookURL, notify.Options{
			MinInterval: cfg.Notify.MinInterval.Duration,
			Logger:      logger.With("component", "notify"),
		})

		severities := make([]model.Severity, len(cfg.Events.Severities))
		for i, s := range cfg.Events.Severities {
			severities[i] = model.Severity(s)
		}
		motionOpts := motion.Options{
			Store:        st,
			Snapshots:    snaps,
			Publisher:    publisher,
			Logger:       logger.With("component", "motion"),
			Sources:      cfg.Events.Sources,
			Zones:        cfg.Events.Zones,
			Severities:   severities,
			ThumbnailURL: cfg.Events.ThumbnailURL,
		}
		if notifier.Enabled() {
			motionOpts.Notifier = notifier
		}
		motionSvc := motion.New(eventlog.New(cfg.Events.Limit), broadcast.New(logger), motionOpts)

		if n, err := motionSvc.Hydrate(ctx, cfg.Events.Limit); err != nil {
			logger.Warn("hydrate event log", "err", err)
		} else {
			logger.Info("event log hydrated", "events", n)
		}

		// Auth.
		if cfg.Auth.JWTSecret == config.DefaultJWTSecret {
			logger.Warn("using the default JWT secret; set HOMEWATCH_JWT_SECRET")
		}
		authSvc := auth.NewService(st, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Duration)
		if err := authSvc.EnsureDefaultUser(ctx, cfg.Auth.Username, cfg.Auth.Password); err != nil {
			return fmt.Errorf("seed default user: %w", err)
		}

		// The camera watcher, when enabled. grpcHealth is set before the
		// watcher starts.
		var (
			w          *watcher.Watcher
			grpcHealth *health.Server
			srv        *server.Server
		)
		if cfg.Camera.Enabled {
			w = watcher.New(watcherConfig(cfg.Camera), watcher.NewCamera(cfg.Camera.Source), motionSvc,
				watcher.WithDetector(newDetector(cfg.Detect, logger)),
				watcher.WithLogger(logger.With("component", "watcher")),
				watcher.OnStateChange(func(s model.WatcherState) {
					motionSvc.WatcherStateChanged(s, w.Health().LastError)
					if grpcHealth != nil {
						srv.SyncHealth(grpcHealth)
					}
				}),
			)
		}

		opts := server.Options{
			Motion:           motionSvc,
			Auth:             authSvc,
			Origins:          cfg.Origins,
			SubscriberBuffer: cfg.Events.SubscriberBuffer,
			Logger:           logger,
		}
		if w != nil {
			opts.Watcher = w
		}
		srv = server.New(opts)

		// Start gRPC listener.
		var grpcServer *grpc.Server
		if cfg.GRPCAddr != "" {
			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				return err
			}
			grpcServer, grpcHealth = server.NewGRPCServer(srv)
			go func() {
				logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
				if err := grpcServer.Serve(lis); err != nil {
					logger.Error("gRPC server error", "err", err)
				}
			}()
		}

		// Start HTTP server.
		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.NewHTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		// Background workers.
		notifier.Start()

		pruner := retention.New(motionSvc, snaps, cfg.Retention.Days, cfg.Retention.Interval.Duration, logger.With("component", "retention"))
		pruner.Start()

		scheduler := eventsync.NewScheduler(motionSvc, exportDestinations(ctx, cfg, logger), cfg.Export.Interval.Duration, logger.With("component", "export"))
		scheduler.Start()

		if w != nil {
			// A camera that cannot be opened leaves the watcher Disabled;
			// the server keeps running and reports it as degraded.
			if err := w.Start(ctx); err != nil {
				logger.Error("camera watcher disabled", "err", err)
			}
		}

		logger.Info("homewatch server started",
			"http_addr", cfg.HTTPAddr,
			"grpc_addr", cfg.GRPCAddr,
			"camera", cfg.Camera.Enabled,
		)

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		// Graceful shutdown. The watcher stops first so nothing new is
		// ingested, then live feeds are closed so streaming requests end.
		if w != nil {
			w.Stop()
			logger.Info("watcher stopped")
		}
		if grpcHealth != nil {
			grpcHealth.Shutdown()
		}
		motionSvc.Close()

		if grpcServer != nil {
			grpcServer.GracefulStop()
			logger.Info("gRPC server stopped")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		scheduler.Stop()
		pruner.Stop()
		notifier.Stop()

		logger.Info("shutdown complete")
		return nil
	},
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func closeLogged(logger *slog.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Error("error closing "+what, "err", err)
	}
}

// openSnapshots uses S3 when a bucket is configured and the local
// directory otherwise.
func openSnapshots(ctx context.Context, cfg config.SnapshotConfig) (snapshot.Store, error) {
	if cfg.S3Bucket != "" {
		s, err := snapshot.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region, cfg.S3Endpoint)
		if err != nil {
			return nil, fmt.Errorf("open S3 snapshots: %w", err)
		}
		return s, nil
	}
	return snapshot.NewFileStore(cfg.Dir)
}

func exportDestinations(ctx context.Context, cfg *config.Config, logger *slog.Logger) []eventsync.Destination {
	if cfg.Export.Interval.Duration <= 0 || cfg.Snapshots.S3Bucket == "" {
		return nil
	}
	dest, err := eventsync.NewS3Destination(ctx, cfg.Snapshots.S3Bucket, cfg.Export.S3Key,
		cfg.Snapshots.S3Region, cfg.Snapshots.S3Endpoint)
	if err != nil {
		logger.Error("failed to create S3 export destination", "err", err)
		return nil
	}
	logger.Info("export S3 destination enabled", "bucket", cfg.Snapshots.S3Bucket, "key", cfg.Export.S3Key)
	return []eventsync.Destination{dest}
}

func watcherConfig(c config.CameraConfig) watcher.Config {
	return watcher.Config{
		Interval:        c.Interval.Duration,
		CaptureTimeout:  c.CaptureTimeout.Duration,
		PixelThreshold:  c.PixelThreshold,
		MinArea:         c.MinArea,
		MinRegion:       c.MinRegion,
		BlurRadius:      c.BlurRadius,
		BaselineRefresh: c.BaselineRefresh,
		RebaseOnMotion:  c.RebaseOnMotion,
		MaxFailures:     c.MaxFailures,
		Zone:            c.Zone,
	}
}

func newDetector(c config.DetectConfig, logger *slog.Logger) watcher.Detector {
	if c.URL == "" {
		return detect.Noop{}
	}
	return detect.NewHTTPDetector(c.URL, detect.Options{
		Confidence:    c.Confidence,
		MaxDetections: c.MaxDetections,
		MinInterval:   c.MinInterval.Duration,
		Logger:        logger.With("component", "detect"),
	})
}
