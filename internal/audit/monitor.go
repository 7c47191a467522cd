package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Notifier receives reports for categories that failed verification.
type Notifier interface {
	NotifyTamper(ctx context.Context, report *Report)
}

// Monitor runs scheduled integrity verification. Verification has no side
// effects, so a scan can be cancelled and re-run at any point.
type Monitor struct {
	verifier *Verifier
	interval time.Duration
	notifier Notifier
	logger   *slog.Logger

	wg sync.WaitGroup

	mu         sync.Mutex
	cancel     context.CancelFunc
	lastReport map[Category]*Report
}

// NewMonitor creates a monitor. notifier may be nil.
func NewMonitor(verifier *Verifier, interval time.Duration, notifier Notifier, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		verifier: verifier,
		interval: interval,
		notifier: notifier,
		logger:   logger,
	}
}

// Start launches the verification loop. It runs one scan immediately, then
// one per interval until the context is cancelled or Stop is called. A
// non-positive interval disables scheduled verification entirely.
func (m *Monitor) Start(ctx context.Context) {
	if m.interval <= 0 {
		m.logger.Info("scheduled audit verification disabled")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx)
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scan(ctx)
		}
	}
}

func (m *Monitor) scan(ctx context.Context) {
	reports, err := m.verifier.VerifyAll(ctx)
	if err != nil {
		m.logger.Error("scheduled audit verification failed", "error", err)
		return
	}

	m.mu.Lock()
	m.lastReport = reports
	m.mu.Unlock()

	for _, c := range Categories() {
		report := reports[c]
		if report.Verified {
			continue
		}
		m.logger.Error("audit log tampering detected",
			"category", string(c),
			"invalid_entries", len(report.InvalidEntries),
		)
		if m.notifier != nil {
			m.notifier.NotifyTamper(ctx, report)
		}
	}
}

// LastReports returns the most recent scan results, or nil before the
// first scan completes.
func (m *Monitor) LastReports() map[Category]*Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReport
}

// Stop halts the loop and waits for an in-progress scan to finish. Safe
// to call without a prior Start, and safe to call more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}
