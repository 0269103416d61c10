// Package alerting periodically re-evaluates the safety alerts of active
// lots and hands the results to publishers.
package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nucmed/nucmed/internal/radiopharm"
)

// Source loads the current state of every active lot.
type Source func(ctx context.Context) ([]radiopharm.LotSnapshot, error)

type MonitorConfig struct {
	Site       string
	Interval   time.Duration
	Publishers []Publisher
	Metrics    *Metrics
	Logger     zerolog.Logger
	// Now defaults to the UTC wall clock.
	Now func() time.Time
}

// Monitor owns the evaluation cadence. The latest snapshot is kept for the
// HTTP API.
type Monitor struct {
	source Source
	cfg    MonitorConfig

	mu     sync.RWMutex
	latest *Snapshot
}

func NewMonitor(source Source, cfg MonitorConfig) *Monitor {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Monitor{source: source, cfg: cfg}
}

// Site is the site whose lots the monitor evaluates.
func (m *Monitor) Site() string {
	return m.cfg.Site
}

// Run evaluates immediately and then on every tick until ctx is cancelled.
// Failed cycles are logged and retried on the next tick.
func (m *Monitor) Run(ctx context.Context) error {
	m.cfg.Logger.Info().
		Str("site", m.cfg.Site).
		Dur("interval", m.cfg.Interval).
		Msg("alert monitor started")

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := m.Refresh(ctx); err != nil && ctx.Err() == nil {
			m.cfg.Logger.Error().Err(err).Str("site", m.cfg.Site).Msg("alert evaluation failed")
		}
		select {
		case <-ctx.Done():
			m.cfg.Logger.Info().Str("site", m.cfg.Site).Msg("alert monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Refresh runs one evaluation cycle. Publisher failures are logged and
// counted but do not fail the cycle.
func (m *Monitor) Refresh(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	now := m.cfg.Now()

	lots, err := m.source(ctx)
	if err != nil {
		m.cfg.Metrics.IncrementEvaluationError()
		return nil, fmt.Errorf("load lot snapshots: %w", err)
	}
	alerts, err := radiopharm.GenerateAlerts(lots, now)
	if err != nil {
		m.cfg.Metrics.IncrementEvaluationError()
		return nil, fmt.Errorf("generate alerts: %w", err)
	}

	snap := &Snapshot{Site: m.cfg.Site, EvaluatedAt: now, Lots: len(lots), Alerts: alerts}
	m.mu.Lock()
	m.latest = snap
	m.mu.Unlock()

	elapsed := time.Since(start)
	m.cfg.Metrics.ObserveCycle(len(lots), alerts, elapsed)
	m.cfg.Logger.Info().
		Str("site", m.cfg.Site).
		Int("lots", len(lots)).
		Int("alerts", len(alerts)).
		Int("critical", countSeverity(alerts, radiopharm.SeverityCritical)).
		Dur("duration", elapsed).
		Msg("alerts evaluated")

	for _, p := range m.cfg.Publishers {
		if err := p.Publish(ctx, *snap); err != nil {
			m.cfg.Metrics.IncrementPublishFailure(p.Name())
			m.cfg.Logger.Error().Err(err).Str("publisher", p.Name()).Msg("alert publish failed")
		}
	}
	return snap, nil
}

// Latest returns the last successful snapshot, if any.
func (m *Monitor) Latest() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return Snapshot{}, false
	}
	return *m.latest, true
}

func countSeverity(alerts []radiopharm.Alert, sev radiopharm.Severity) int {
	n := 0
	for _, a := range alerts {
		if a.Severity == sev {
			n++
		}
	}
	return n
}
