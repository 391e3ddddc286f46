// Package detect flags users whose event count in a trailing window exceeds a threshold.
//
// The window is recomputed from the event store on every check; no counters are kept.
// Without a cooldown a sustained burst alerts on every qualifying event.
package detect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"clickstream/internal/alert"
	"clickstream/internal/metrics"
	"clickstream/internal/model"
	"clickstream/internal/store"
)

const (
	DefaultWindow    = 20 * time.Second
	DefaultThreshold = 4

	// cooldown entries are swept once the map grows past this.
	sweepAt = 10_000
)

// Config holds the burst rule.
type Config struct {
	Window    time.Duration
	Threshold int           // alert when count > Threshold
	Cooldown  time.Duration // 0 disables suppression
}

// Detector applies the burst rule against the event store.
type Detector struct {
	store   store.Querier
	sink    alert.Sink
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Registry

	// Now stamps detected_at. Split for testability.
	Now func() time.Time

	mu        sync.Mutex
	lastAlert map[string]time.Time
}

// New returns a Detector. A non-positive Window or Threshold falls back to the default; m may be nil.
func New(q store.Querier, sink alert.Sink, cfg Config, log zerolog.Logger, m *metrics.Registry) *Detector {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Detector{
		store:     q,
		sink:      sink,
		cfg:       cfg,
		log:       log,
		metrics:   m,
		Now:       time.Now,
		lastAlert: make(map[string]time.Time),
	}
}

// Config returns the effective rule.
func (d *Detector) Config() Config { return d.cfg }

// Check counts userID's events with txn_timestamp >= asOf-Window. It returns an
// Alert when the count exceeds the threshold and nil otherwise. A store failure
// is returned and nothing is published; a publish failure is only logged.
func (d *Detector) Check(ctx context.Context, userID string, asOf time.Time) (*model.Alert, error) {
	windowStart := asOf.Add(-d.cfg.Window)

	t0 := time.Now()
	events, err := d.store.Query(ctx, userID, windowStart)
	if d.metrics != nil {
		d.metrics.WindowQuerySec.Observe(time.Since(t0).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("burst check for %s: %w", userID, err)
	}
	count := len(events)
	if d.metrics != nil {
		d.metrics.WindowCount.Observe(float64(count))
	}
	if count <= d.cfg.Threshold {
		return nil, nil
	}
	if d.suppressed(userID, asOf) {
		d.log.Debug().Str("user_id", userID).Int("window_count", count).Msg("alert suppressed by cooldown")
		if d.metrics != nil {
			d.metrics.AlertsDropped.Inc()
		}
		return nil, nil
	}

	a := model.NewAlert(userID, d.Now().UTC(), count)
	d.log.Warn().Str("user_id", userID).Int("window_count", count).Dur("window", d.cfg.Window).Msg("potential DDoS detected")
	if d.metrics != nil {
		d.metrics.AlertsRaised.Inc()
	}
	if err := d.sink.Publish(ctx, a.Subject(), a.Message); err != nil {
		d.log.Error().Err(err).Str("user_id", userID).Msg("alert publish failed")
		if d.metrics != nil {
			d.metrics.PublishFailures.Inc()
		}
	}
	return &a, nil
}

// suppressed reports whether userID alerted within the cooldown before asOf, and
// records asOf as the latest alert otherwise.
func (d *Detector) suppressed(userID string, asOf time.Time) bool {
	if d.cfg.Cooldown <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastAlert[userID]; ok && asOf.Sub(last) < d.cfg.Cooldown {
		return true
	}
	if len(d.lastAlert) >= sweepAt {
		for u, last := range d.lastAlert {
			if asOf.Sub(last) >= d.cfg.Cooldown {
				delete(d.lastAlert, u)
			}
		}
	}
	d.lastAlert[userID] = asOf
	return false
}
