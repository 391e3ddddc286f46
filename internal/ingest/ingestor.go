package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"clickstream/internal/apperr"
	"clickstream/internal/metrics"
	"clickstream/internal/model"
	"clickstream/internal/store"
)

// Result values echoed back to the transport.
const (
	ResultOk    = "Ok"
	ResultError = "Error"
)

// Record is one inbound transport record: an opaque id and a base64-encoded JSON payload.
type Record struct {
	RecordID string `json:"recordId"`
	Data     string `json:"data"`
}

// Outcome is the per-record result; Data echoes the original payload unchanged.
// Retry marks a failure the transport should redeliver rather than drop.
type Outcome struct {
	RecordID string `json:"recordId"`
	Result   string `json:"result"`
	Data     string `json:"data"`
	Reason   string `json:"reason,omitempty"`
	Retry    bool   `json:"-"`
}

// Retryable reports whether any outcome in out asks for redelivery.
func Retryable(out []Outcome) bool {
	for _, o := range out {
		if o.Retry {
			return true
		}
	}
	return false
}

// Checker runs burst detection for a freshly written event.
type Checker interface {
	Check(ctx context.Context, userID string, asOf time.Time) (*model.Alert, error)
}

// Ingestor turns raw records into stored events and runs detection synchronously per record.
type Ingestor struct {
	store    store.Store
	detector Checker
	seq      *store.Sequencer
	log      zerolog.Logger
	metrics  *metrics.Registry
}

// NewIngestor wires the ingestor. detector and m may be nil.
func NewIngestor(st store.Store, detector Checker, seq *store.Sequencer, log zerolog.Logger, m *metrics.Registry) *Ingestor {
	if seq == nil {
		seq = store.NewSequencer("", nil)
	}
	return &Ingestor{store: st, detector: detector, seq: seq, log: log, metrics: m}
}

// Ingest processes records sequentially and always returns one outcome per
// record, in input order. A failing record never aborts the batch.
func (ig *Ingestor) Ingest(ctx context.Context, batch []Record) []Outcome {
	out := make([]Outcome, 0, len(batch))
	ok := 0
	for _, rec := range batch {
		o := ig.ingestOne(ctx, rec)
		if o.Result == ResultOk {
			ok++
		}
		out = append(out, o)
	}
	ig.log.Info().Int("records", len(batch)).Int("ok", ok).Int("failed", len(batch)-ok).Msg("batch ingested")
	return out
}

func (ig *Ingestor) ingestOne(ctx context.Context, rec Record) Outcome {
	lg := ig.log.With().Str("record_id", rec.RecordID).Logger()
	ev, err := ig.writeRecord(ctx, rec)
	if err != nil {
		lg.Warn().Err(err).Str("kind", string(apperr.KindOf(err))).Msg("record rejected")
		if ig.metrics != nil {
			ig.metrics.RecordsFailed.Inc()
		}
		return Outcome{
			RecordID: rec.RecordID,
			Result:   ResultError,
			Data:     rec.Data,
			Reason:   err.Error(),
			Retry:    apperr.Is(err, apperr.KindStoreUnavailable) || ctx.Err() != nil,
		}
	}
	if ig.metrics != nil {
		ig.metrics.RecordsIngested.Inc()
	}
	lg.Debug().Str("user_id", ev.UserID).Str("sort_key", ev.SortKey).Msg("event stored")

	// The write already succeeded: a detection failure is logged, not returned.
	if ig.detector != nil {
		if _, err := ig.detector.Check(ctx, ev.UserID, ev.TxnTimestamp); err != nil {
			lg.Error().Err(err).Str("user_id", ev.UserID).Msg("burst detection failed")
			if ig.metrics != nil {
				ig.metrics.DetectFailures.Inc()
			}
		}
	}
	return Outcome{RecordID: rec.RecordID, Result: ResultOk, Data: rec.Data}
}

// writeRecord decodes, normalizes and writes a single record.
func (ig *Ingestor) writeRecord(ctx context.Context, rec Record) (model.Event, error) {
	raw, err := base64.StdEncoding.DecodeString(rec.Data)
	if err != nil {
		return model.Event{}, apperr.Malformed("decode base64", err)
	}
	ev, err := model.ParsePayload(raw)
	if err != nil {
		return model.Event{}, apperr.Malformed("parse payload", err)
	}
	ev.TxnTimestamp, ev.SortKey = ig.seq.Next()
	if err := ig.store.Put(ctx, ev); err != nil {
		switch {
		case errors.Is(err, store.ErrMalformedKey):
			err = apperr.Malformed("put event", err)
		case apperr.KindOf(err) == "":
			err = apperr.StoreUnavailable("put event", err)
		}
		return model.Event{}, fmt.Errorf("store event: %w", err)
	}
	return ev, nil
}

// EncodeRecord wraps a JSON payload the way the transport delivers it.
func EncodeRecord(id string, payload []byte) Record {
	return Record{RecordID: id, Data: base64.StdEncoding.EncodeToString(payload)}
}
