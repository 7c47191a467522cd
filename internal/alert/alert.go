// Package alert publishes tamper alerts from scheduled audit verification
// to a Redis channel, where the application's notification pipeline picks
// them up.
package alert

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/byteworthy/Numira-sub002/internal/audit"
)

// Config holds Redis connection and channel settings.
type Config struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TLSEnabled   bool

	// Channel is the pub/sub channel alerts are published to.
	Channel string
}

// TamperAlert is the message published when a category fails verification.
type TamperAlert struct {
	ID             string               `json:"id"`
	Category       string               `json:"category"`
	DetectedAt     time.Time            `json:"detectedAt"`
	Entries        int                  `json:"entries"`
	InvalidEntries []audit.InvalidEntry `json:"invalidEntries"`
}

// Publisher sends tamper alerts over Redis pub/sub. It implements
// audit.Notifier.
type Publisher struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger

	published atomic.Uint64
	errors    atomic.Uint64
}

// NewPublisher connects to Redis and verifies the connection.
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("alert: channel is required")
	}

	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("alert: failed to connect to Redis: %w", err)
	}

	logger.Info("tamper alert publisher initialized", "addr", cfg.Addr, "channel", cfg.Channel)

	return &Publisher{
		client:  client,
		channel: cfg.Channel,
		logger:  logger,
	}, nil
}

// NotifyTamper publishes an alert for a failed report. Publish failures
// are logged and counted; they never interfere with the verification loop.
func (p *Publisher) NotifyTamper(ctx context.Context, report *audit.Report) {
	alert := TamperAlert{
		ID:             uuid.New().String(),
		Category:       string(report.Category),
		DetectedAt:     report.CheckedAt,
		Entries:        report.Entries,
		InvalidEntries: report.InvalidEntries,
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		p.errors.Add(1)
		p.logger.Error("failed to marshal tamper alert", "error", err)
		return
	}

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.errors.Add(1)
		p.logger.Error("failed to publish tamper alert",
			"channel", p.channel,
			"category", alert.Category,
			"error", err,
		)
		return
	}

	p.published.Add(1)
	p.logger.Info("tamper alert published",
		"channel", p.channel,
		"category", alert.Category,
		"invalid_entries", len(alert.InvalidEntries),
	)
}

// Metrics contains publisher counters.
type Metrics struct {
	Published uint64
	Errors    uint64
}

// Metrics returns a snapshot of the publisher counters.
func (p *Publisher) Metrics() Metrics {
	return Metrics{
		Published: p.published.Load(),
		Errors:    p.errors.Load(),
	}
}

// Close releases the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
