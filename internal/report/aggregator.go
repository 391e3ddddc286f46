// Package report builds per-brand statistics from a full store scan and
// archives and announces the result.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"clickstream/internal/alert"
	"clickstream/internal/apperr"
	"clickstream/internal/metrics"
	"clickstream/internal/model"
	"clickstream/internal/store"
)

// Aggregator is shared by the scheduled and the request-driven entry points.
type Aggregator struct {
	scanner store.Scanner
	archive Archive
	sink    alert.Sink
	log     zerolog.Logger
	metrics *metrics.Registry

	// Now stamps generated reports. Split for testability.
	Now func() time.Time
}

// NewAggregator wires an Aggregator. archive, sink and m may be nil.
func NewAggregator(sc store.Scanner, archive Archive, sink alert.Sink, log zerolog.Logger, m *metrics.Registry) *Aggregator {
	return &Aggregator{scanner: sc, archive: archive, sink: sink, log: log, metrics: m, Now: time.Now}
}

// Aggregate scans the store for brand and counts views and purchases, summing
// purchase prices exactly. brand is trimmed the way ingested brands are; an
// empty brand is rejected before the store is touched.
func (a *Aggregator) Aggregate(ctx context.Context, brand string) (model.Report, error) {
	brand = strings.TrimSpace(brand)
	if brand == "" {
		return model.Report{}, apperr.BadRequest("brand parameter is required")
	}
	events, err := a.scanner.Scan(ctx, store.ByBrand(brand))
	if err != nil {
		if apperr.KindOf(err) == "" {
			err = apperr.StoreUnavailable("scan events", err)
		}
		if a.metrics != nil {
			a.metrics.ReportFailures.Inc()
		}
		return model.Report{}, fmt.Errorf("aggregate %s: %w", brand, err)
	}
	r := Summarize(brand, events)
	r.GeneratedAt = a.Now().UTC()
	if a.metrics != nil {
		a.metrics.ReportsBuilt.Inc()
	}
	a.log.Info().Str("brand", brand).Int("scanned", len(events)).Int64("views", r.Views).
		Int64("purchases", r.Purchases).Str("total_sales", r.TotalSales.String()).Msg("report built")
	return r, nil
}

// Summarize folds events into a Report. Events of other brands are not filtered here.
func Summarize(brand string, events []model.Event) model.Report {
	r := model.Report{Brand: brand, TotalSales: decimal.Zero}
	for _, ev := range events {
		switch ev.EventType {
		case model.EventView:
			r.Views++
		case model.EventPurchase:
			r.Purchases++
			r.TotalSales = r.TotalSales.Add(ev.Price)
		}
	}
	return r
}

// Generate aggregates, then archives the report and publishes a summary.
// Archive and notification failures are logged; the report is still returned.
func (a *Aggregator) Generate(ctx context.Context, brand string) (model.Report, error) {
	r, err := a.Aggregate(ctx, brand)
	if err != nil {
		return model.Report{}, err
	}
	brand = r.Brand
	lg := a.log.With().Str("brand", brand).Logger()

	body, err := json.Marshal(r)
	if err != nil {
		return r, fmt.Errorf("marshal report: %w", err)
	}
	ts := r.GeneratedAt.Format(time.RFC3339Nano)

	if a.archive != nil {
		key := Key(brand, r.GeneratedAt)
		if err := a.archive.Put(ctx, key, r); err != nil {
			lg.Error().Err(err).Str("key", key).Msg("report archive failed")
			if a.metrics != nil {
				a.metrics.ReportFailures.Inc()
			}
		} else {
			lg.Debug().Str("key", key).Msg("report archived")
		}
	}
	if a.sink != nil {
		subject := fmt.Sprintf("Clickstream Analysis for %s - %s", brand, ts)
		msg := fmt.Sprintf("Brand report for %s-\n %s", brand, body)
		if err := a.sink.Publish(ctx, subject, msg); err != nil {
			lg.Error().Err(apperr.Notification("publish report", err)).Msg("report notification failed")
			if a.metrics != nil {
				a.metrics.PublishFailures.Inc()
			}
		}
	}
	return r, nil
}
