// Package forward mirrors appended audit entries to Kafka so downstream
// consumers (SIEM, analytics) receive a live copy of the record. Mirroring
// is best-effort: the JSONL chain on disk stays the source of truth and an
// append never fails or blocks because of Kafka.
package forward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/byteworthy/Numira-sub002/internal/audit"
)

// ErrForwarderClosed is returned by Close after the first call.
var ErrForwarderClosed = errors.New("forward: forwarder is closed")

// Config holds Kafka forwarding settings.
type Config struct {
	Brokers      []string
	Topic        string
	QueueSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("forward: at least one broker is required")
	}
	if c.Topic == "" {
		return errors.New("forward: topic is required")
	}
	return nil
}

type message struct {
	category audit.Category
	entry    *audit.Entry
}

// KafkaForwarder buffers entries and writes them to a topic from a
// background worker. When the buffer is full, entries are dropped and
// counted rather than blocking the append path. It implements
// audit.Forwarder.
type KafkaForwarder struct {
	writer *kafka.Writer
	config Config
	logger *slog.Logger

	// mu makes enqueues and the channel close in Close mutually
	// exclusive, so a Forward racing Close can never send on a closed
	// channel.
	mu     sync.RWMutex
	buffer chan message
	closed atomic.Bool
	wg     sync.WaitGroup

	forwarded atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64
}

// NewKafkaForwarder creates and starts a forwarder.
func NewKafkaForwarder(cfg Config, logger *slog.Logger) (*KafkaForwarder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-writer")
		}),
	}

	f := &KafkaForwarder{
		writer: writer,
		config: cfg,
		logger: logger,
		buffer: make(chan message, cfg.QueueSize),
	}

	f.wg.Add(1)
	go f.sendWorker()

	logger.Info("kafka entry forwarder initialized",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"queue_size", cfg.QueueSize,
	)

	return f, nil
}

// Forward enqueues an entry for mirroring. It never blocks; entries are
// dropped (and counted) when the queue is full or the forwarder closed.
func (f *KafkaForwarder) Forward(category audit.Category, entry *audit.Entry) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed.Load() {
		f.dropped.Add(1)
		return
	}

	select {
	case f.buffer <- message{category: category, entry: entry}:
	default:
		f.dropped.Add(1)
	}
}

func (f *KafkaForwarder) sendWorker() {
	defer f.wg.Done()

	for msg := range f.buffer {
		f.send(msg)
	}
}

func (f *KafkaForwarder) send(msg message) {
	value, err := json.Marshal(msg.entry)
	if err != nil {
		f.errors.Add(1)
		f.logger.Error("failed to marshal forwarded entry", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.config.WriteTimeout)
	defer cancel()

	err = f.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.category),
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		f.errors.Add(1)
		f.logger.Error("failed to forward audit entry",
			"category", string(msg.category),
			"error", err,
		)
		return
	}

	f.forwarded.Add(1)
}

// Metrics contains forwarder counters.
type Metrics struct {
	Forwarded uint64
	Dropped   uint64
	Errors    uint64
}

// Metrics returns a snapshot of the forwarder counters.
func (f *KafkaForwarder) Metrics() Metrics {
	return Metrics{
		Forwarded: f.forwarded.Load(),
		Dropped:   f.dropped.Load(),
		Errors:    f.errors.Load(),
	}
}

// Close drains the queue and closes the writer. The write lock is held
// across the closed flip and the channel close, so no in-flight Forward
// can be between its closed check and its send when the channel closes.
func (f *KafkaForwarder) Close() error {
	f.mu.Lock()
	if f.closed.Swap(true) {
		f.mu.Unlock()
		return ErrForwarderClosed
	}
	close(f.buffer)
	f.mu.Unlock()

	f.wg.Wait()
	return f.writer.Close()
}
