package analyzer

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"trading-analyzer/internal/model"
)

type seriesInfo struct {
	Instrument string          `json:"instrument"`
	Timeframe  model.Timeframe `json:"timeframe"`
	Candles    int             `json:"candles"`
	Version    int64           `json:"version"`
}

type snapshotResponse struct {
	Instrument string                  `json:"instrument"`
	Fast       model.IndicatorSnapshot `json:"fast"`
	Slow       model.IndicatorSnapshot `json:"slow"`
	Armed      bool                    `json:"armed"`

	// RSI of the open buckets at their latest tick, when known.
	FastPreview *model.RsiPoint `json:"fast_preview,omitempty"`
	SlowPreview *model.RsiPoint `json:"slow_preview,omitempty"`
}

// registerAPI mounts the read-only query endpoints:
//
//	GET /api/series
//	GET /api/rsi?instrument=&tf=[&after=&before=][&live=true][&limit=]
//	GET /api/snapshot?instrument=
func (svc *Service) registerAPI(srv interface {
	Handle(pattern string, h http.Handler)
}) {
	srv.Handle("/api/series", http.HandlerFunc(svc.handleSeries))
	srv.Handle("/api/rsi", http.HandlerFunc(svc.handleRsi))
	srv.Handle("/api/snapshot", http.HandlerFunc(svc.handleSnapshot))
}

func (svc *Service) handleSeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	ids := svc.calc.Series()
	out := make([]seriesInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, seriesInfo{
			Instrument: id.Instrument,
			Timeframe:  id.Timeframe,
			Candles:    len(svc.calc.Candles(id.Instrument, id.Timeframe)),
			Version:    svc.calc.CandleVersion(id.Instrument, id.Timeframe),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (svc *Service) handleRsi(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	instrument := q.Get("instrument")
	if instrument == "" {
		http.Error(w, "instrument is required", http.StatusBadRequest)
		return
	}
	tf, err := model.ParseTimeframe(q.Get("tf"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	after, err := parseTime(q.Get("after"))
	if err != nil {
		http.Error(w, "after: "+err.Error(), http.StatusBadRequest)
		return
	}
	before, err := parseTime(q.Get("before"))
	if err != nil {
		http.Error(w, "before: "+err.Error(), http.StatusBadRequest)
		return
	}

	var points []model.RsiPoint
	if q.Get("live") == "true" {
		points = svc.calc.LivePoints(instrument, tf)
	} else {
		points = svc.calc.Points(instrument, tf, after, before)
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 && len(points) > limit {
		points = points[len(points)-limit:]
	}
	if points == nil {
		points = []model.RsiPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

func (svc *Service) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	instrument := r.URL.Query().Get("instrument")
	if instrument == "" {
		http.Error(w, "instrument is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse{
		Instrument: instrument,
		Fast:       svc.calc.Snapshot(instrument, svc.opts.Fast),
		Slow:       svc.calc.Snapshot(instrument, svc.opts.Slow),
		Armed:      svc.dual.Armed(instrument),

		FastPreview: svc.calc.Preview(instrument, svc.opts.Fast),
		SlowPreview: svc.calc.Preview(instrument, svc.opts.Slow),
	})
}

// parseTime accepts RFC3339 or unix seconds. Empty means an open bound.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
