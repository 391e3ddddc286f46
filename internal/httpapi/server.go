// Package httpapi exposes report generation and batch ingestion over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"clickstream/internal/apperr"
	"clickstream/internal/ingest"
	"clickstream/internal/model"
	"clickstream/internal/snapshot"
)

const maxBody = 1 << 20

// Reporter builds, archives and announces a brand report.
type Reporter interface {
	Generate(ctx context.Context, brand string) (model.Report, error)
}

// Ingester processes a transport batch.
type Ingester interface {
	Ingest(ctx context.Context, batch []ingest.Record) []ingest.Outcome
}

// Snapshotter dumps the store owned by this process.
type Snapshotter interface {
	Snapshot(ctx context.Context, id string) (snapshot.Manifest, error)
}

// Deps are the collaborators behind the routes. Everything but Reporter and Log may be nil.
type Deps struct {
	Reporter    Reporter
	Ingester    Ingester
	Snapshotter Snapshotter
	Metrics     http.Handler
	Ready       func(ctx context.Context) error
	Log         zerolog.Logger
}

type reportRequest struct {
	Brand *string `json:"brand"`
}

type snapshotRequest struct {
	ID string `json:"id"`
}

type ingestRequest struct {
	Records []ingest.Record `json:"records"`
}

type ingestResponse struct {
	Records []ingest.Outcome `json:"records"`
}

// NewRouter wires the routes plus access logging and panic recovery.
func NewRouter(d Deps) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", d.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/reports", d.handleReport).Methods(http.MethodPost)
	if d.Ingester != nil {
		r.HandleFunc("/ingest", d.handleIngest).Methods(http.MethodPost)
	}
	if d.Snapshotter != nil {
		r.HandleFunc("/snapshots", d.handleSnapshot).Methods(http.MethodPost)
	}
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics).Methods(http.MethodGet)
	}
	r.Use(bodyLimit(maxBody))

	recovered := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{d.Log}),
		handlers.PrintRecoveryStack(true),
	)(r)
	return handlers.LoggingHandler(d.Log, recovered)
}

func bodyLimit(n int64) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

type recoveryLogger struct{ log zerolog.Logger }

func (l recoveryLogger) Println(v ...interface{}) {
	l.log.Error().Interface("panic", v).Msg("handler panic recovered")
}

func drain(r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	_ = r.Body.Close()
}

func (d Deps) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if d.Ready != nil {
		if err := d.Ready(r.Context()); err != nil {
			WriteProblem(w, http.StatusServiceUnavailable, "not ready", "event store not reachable", nil)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d Deps) handleReport(w http.ResponseWriter, r *http.Request) {
	defer drain(r)
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	var brand string
	if req.Brand != nil {
		brand = strings.TrimSpace(*req.Brand)
	}
	if brand == "" {
		WriteProblem(w, http.StatusBadRequest, "validation failed", "Brand parameter is required",
			map[string][]string{"brand": {"required"}})
		return
	}

	rep, err := d.Reporter.Generate(r.Context(), brand)
	if err != nil {
		d.Log.Error().Err(err).Str("brand", brand).Msg("report failed")
		writeFailure(w, err, "report failed")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleSnapshot accepts an empty body or {"id": "..."}.
func (d Deps) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	defer drain(r)
	var req snapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	m, err := d.Snapshotter.Snapshot(r.Context(), strings.TrimSpace(req.ID))
	if err != nil {
		d.Log.Error().Err(err).Str("snapshot_id", req.ID).Msg("snapshot failed")
		writeFailure(w, err, "snapshot failed")
		return
	}
	d.Log.Info().Str("snapshot_id", m.SnapshotID).Int("events", m.Events).Msg("snapshot written")
	writeJSON(w, http.StatusCreated, m)
}

func writeFailure(w http.ResponseWriter, err error, title string) {
	switch apperr.KindOf(err) {
	case apperr.KindBadRequest:
		WriteProblem(w, http.StatusBadRequest, "validation failed", err.Error(), nil)
	case apperr.KindStoreUnavailable:
		WriteProblem(w, http.StatusServiceUnavailable, "store unavailable", "event store scan failed, please retry", nil)
	default:
		if errors.Is(err, context.Canceled) {
			return
		}
		WriteProblem(w, http.StatusInternalServerError, title, "internal error", nil)
	}
}

func (d Deps) handleIngest(w http.ResponseWriter, r *http.Request) {
	defer drain(r)
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	out := d.Ingester.Ingest(r.Context(), req.Records)
	writeJSON(w, http.StatusOK, ingestResponse{Records: out})
}
