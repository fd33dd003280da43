// Package api is the operator HTTP surface: read-only JSON views of the
// controller plus the lane reset action.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/signal.report/internal/alert"
	"github.com/banshee-data/signal.report/internal/config"
	"github.com/banshee-data/signal.report/internal/db"
	"github.com/banshee-data/signal.report/internal/decision"
	"github.com/banshee-data/signal.report/internal/httputil"
	"github.com/banshee-data/signal.report/internal/lane"
	"github.com/banshee-data/signal.report/internal/monitoring"
	"github.com/banshee-data/signal.report/internal/signal"
	"github.com/banshee-data/signal.report/internal/version"
	"github.com/banshee-data/signal.report/internal/worker"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Controller is the live view of the running pipeline.
type Controller interface {
	Lanes() lane.Set
	State() decision.State
	Results() map[lane.Lane]lane.Result
	Lights() map[lane.Lane]signal.Color
	Metrics() []worker.Metrics
	Switches() []decision.Switch
	Ticks() uint64
	AlertStats() alert.Stats
	ResetLane(l lane.Lane) error
}

// Journal is the persisted history. It may be nil.
type Journal interface {
	RecentAlerts(ctx context.Context, limit int) ([]db.AlertRecord, error)
	RecentSwitches(ctx context.Context, limit int) ([]db.SwitchRecord, error)
}

type Server struct {
	ctrl    Controller
	journal Journal
	cfg     *config.Config
}

func NewServer(ctrl Controller, journal Journal, cfg *config.Config) *Server {
	return &Server{
		ctrl:    ctrl,
		journal: journal,
		cfg:     cfg,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.showState)
	mux.HandleFunc("/api/lanes", s.listLanes)
	mux.HandleFunc("/api/lanes/{lane}/reset", s.resetLane)
	mux.HandleFunc("/api/alerts", s.listAlerts)
	mux.HandleFunc("/api/switches", s.listSwitches)
	mux.HandleFunc("/api/config", s.showConfig)
	return mux
}

type stateResponse struct {
	State  decision.State             `json:"state"`
	Lights map[lane.Lane]signal.Color `json:"lights"`
	Ticks  uint64                     `json:"ticks"`
	Alerts alert.Stats                `json:"alerts"`
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, stateResponse{
		State:  s.ctrl.State(),
		Lights: s.ctrl.Lights(),
		Ticks:  s.ctrl.Ticks(),
		Alerts: s.ctrl.AlertStats(),
	})
}

// LaneView is one entry of /api/lanes.
type LaneView struct {
	Lane    lane.Lane      `json:"lane"`
	Light   signal.Color   `json:"light"`
	Green   bool           `json:"green"`
	Stale   bool           `json:"stale"`
	Result  *lane.Result   `json:"result,omitempty"`
	Metrics worker.Metrics `json:"metrics"`
}

func (s *Server) listLanes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	st := s.ctrl.State()
	lights := s.ctrl.Lights()
	results := s.ctrl.Results()
	metrics := make(map[lane.Lane]worker.Metrics)
	for _, m := range s.ctrl.Metrics() {
		metrics[m.Lane] = m
	}
	stale := make(map[lane.Lane]bool, len(st.Stale))
	for _, l := range st.Stale {
		stale[l] = true
	}

	out := make([]LaneView, 0, len(s.ctrl.Lanes()))
	for _, l := range s.ctrl.Lanes() {
		v := LaneView{
			Lane:    l,
			Light:   lights[l],
			Green:   st.CurrentGreen == l,
			Stale:   stale[l],
			Metrics: metrics[l],
		}
		if res, ok := results[l]; ok {
			v.Result = &res
		}
		out = append(out, v)
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) resetLane(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	l := lane.Lane(r.PathValue("lane"))
	if !s.ctrl.Lanes().Contains(l) {
		httputil.NotFound(w, fmt.Sprintf("unknown lane %q", l))
		return
	}
	if err := s.ctrl.ResetLane(l); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"lane": string(l), "status": "reset requested"})
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if s.journal == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	alerts, err := s.journal.RecentAlerts(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve alerts: %v", err))
		return
	}
	if alerts == nil {
		alerts = []db.AlertRecord{}
	}
	httputil.WriteJSONOK(w, alerts)
}

func (s *Server) listSwitches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	if s.journal == nil {
		// newest first, like the journal
		recent := s.ctrl.Switches()
		out := make([]decision.Switch, 0, len(recent))
		for i := len(recent) - 1; i >= 0 && len(out) < limit; i-- {
			out = append(out, recent[i])
		}
		httputil.WriteJSONOK(w, out)
		return
	}

	switches, err := s.journal.RecentSwitches(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve switches: %v", err))
		return
	}
	if switches == nil {
		switches = []db.SwitchRecord{}
	}
	httputil.WriteJSONOK(w, switches)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := map[string]interface{}{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	}
	if s.cfg != nil {
		resp["config"] = s.cfg.Redacted()
		resp["effective"] = effective(s.cfg)
	}
	httputil.WriteJSONOK(w, resp)
}

// effective lists the values actually in use, defaults applied.
func effective(c *config.Config) map[string]interface{} {
	return map[string]interface{}{
		"default_lane":         c.GetDefaultLane(),
		"min_green":            c.GetMinGreen().String(),
		"max_green":            c.GetMaxGreen().String(),
		"yellow":               c.GetYellow().String(),
		"all_red":              c.GetAllRed().String(),
		"emergency_timeout":    c.GetEmergencyTimeout().String(),
		"tick":                 c.GetTick().String(),
		"stale_after":          c.GetStaleAfter().String(),
		"switch_ratio":         c.GetSwitchRatio(),
		"emergency_confidence": c.GetEmergencyConfidence(),
		"congestion_threshold": c.GetCongestionThreshold(),
	}
}

const defaultLimit = 50

var errBadLimit = errors.New("Invalid 'limit' parameter")

func parseLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > db.MaxLimit {
		return 0, errBadLimit
	}
	return n, nil
}
