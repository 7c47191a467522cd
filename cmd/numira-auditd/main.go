// Package main is the entry point for the Numira audit daemon. It owns the
// append-only audit logs, runs the periodic chain verifier, and optionally
// forwards entries to Kafka, publishes tamper alerts to Redis, and archives
// log segments to S3.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/byteworthy/Numira-sub002/internal/alert"
	"github.com/byteworthy/Numira-sub002/internal/archive"
	"github.com/byteworthy/Numira-sub002/internal/audit"
	"github.com/byteworthy/Numira-sub002/internal/audit/store"
	"github.com/byteworthy/Numira-sub002/internal/config"
	"github.com/byteworthy/Numira-sub002/internal/forward"
	"github.com/byteworthy/Numira-sub002/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"audit_dir", cfg.Audit.Dir,
		"append_only", cfg.Audit.AppendOnly,
		"verify_interval", cfg.Verify.Interval,
		"alert_enabled", cfg.Alert.Enabled,
		"forward_enabled", cfg.Forward.Enabled,
		"archive_enabled", cfg.Archive.Enabled,
	)

	fileStore, err := store.NewFileStore(store.FileStoreConfig{
		Dir:        cfg.Audit.Dir,
		AppendOnly: cfg.Audit.AppendOnly,
		Logger:     logger,
	})
	if err != nil {
		slog.Error("failed to open audit store", "error", err)
		os.Exit(1)
	}

	auditLog, err := audit.NewLogger(fileStore, logger)
	if err != nil {
		slog.Error("failed to initialize audit logger", "error", err)
		os.Exit(1)
	}

	verifier := audit.NewVerifier(fileStore, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var forwarder *forward.KafkaForwarder
	if cfg.Forward.Enabled {
		forwarder, err = forward.NewKafkaForwarder(forward.Config{
			Brokers:      cfg.Forward.Brokers,
			Topic:        cfg.Forward.Topic,
			QueueSize:    cfg.Forward.QueueSize,
			BatchTimeout: cfg.Forward.BatchTimeout,
			WriteTimeout: cfg.Forward.WriteTimeout,
		}, logger)
		if err != nil {
			slog.Error("failed to initialize kafka forwarder", "error", err)
			os.Exit(1)
		}
		auditLog.SetForwarder(forwarder)
		slog.Info("kafka forwarding enabled", "topic", cfg.Forward.Topic)
	}

	var notifier audit.Notifier
	var publisher *alert.Publisher
	if cfg.Alert.Enabled {
		publisher, err = alert.NewPublisher(alert.Config{
			Addr:         cfg.Alert.Redis.Addr,
			Password:     cfg.Alert.Redis.Password,
			DB:           cfg.Alert.Redis.DB,
			DialTimeout:  cfg.Alert.Redis.DialTimeout,
			ReadTimeout:  cfg.Alert.Redis.ReadTimeout,
			WriteTimeout: cfg.Alert.Redis.WriteTimeout,
			TLSEnabled:   cfg.Alert.Redis.TLSEnabled,
			Channel:      cfg.Alert.Channel,
		}, logger)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		notifier = publisher
		slog.Info("tamper alerting enabled", "channel", cfg.Alert.Channel)
	}

	monitor := audit.NewMonitor(verifier, cfg.Verify.Interval, notifier, logger)
	monitor.Start(ctx)

	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		client, err := archive.NewClient(ctx, archive.Config{
			Region:          cfg.Archive.S3.Region,
			Bucket:          cfg.Archive.S3.Bucket,
			Prefix:          cfg.Archive.S3.Prefix,
			Endpoint:        cfg.Archive.S3.Endpoint,
			AccessKeyID:     cfg.Archive.S3.AccessKeyID,
			SecretAccessKey: cfg.Archive.S3.SecretAccessKey,
			StorageClass:    cfg.Archive.S3.StorageClass,
			UsePathStyle:    cfg.Archive.S3.UsePathStyle,
			Timeout:         cfg.Archive.S3.Timeout,
		}, logger)
		if err != nil {
			slog.Error("failed to initialize archive client", "error", err)
			os.Exit(1)
		}
		archiver = archive.NewArchiver(client, fileStore, auditLog, logger)
		archiver.Start(ctx, cfg.Archive.Interval)
		slog.Info("segment archival enabled",
			"bucket", cfg.Archive.S3.Bucket,
			"interval", cfg.Archive.Interval,
		)
	}

	slog.Info("audit daemon started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received", "signal", sig.String())

	cancel()

	if archiver != nil {
		archiver.Stop()
	}

	monitor.Stop()

	if forwarder != nil {
		if err := forwarder.Close(); err != nil {
			slog.Error("forwarder close error", "error", err)
		}
	}

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			slog.Error("alert publisher close error", "error", err)
		}
	}

	if err := auditLog.Close(); err != nil {
		slog.Error("audit logger close error", "error", err)
	}

	metrics := auditLog.Metrics()
	slog.Info("audit daemon stopped",
		"entries_written", metrics.Written,
		"invalid_rejected", metrics.Invalid,
		"append_failures", metrics.AppendFailures,
	)
}
