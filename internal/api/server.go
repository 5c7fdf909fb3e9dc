// Package api serves the JSON status and flight-log endpoints of a running
// session.
package api

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/facefollow/internal/control"
	"github.com/banshee-data/facefollow/internal/db"
	"github.com/banshee-data/facefollow/internal/distribution"
	"github.com/banshee-data/facefollow/internal/httputil"
	"github.com/banshee-data/facefollow/internal/monitoring"
	"github.com/banshee-data/facefollow/internal/report"
	"github.com/banshee-data/facefollow/internal/tello"
	"github.com/banshee-data/facefollow/internal/version"
)

var logf = monitoring.Prefixed("API")

const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// Sources supplies the live state reported by /api/status. Any field may be
// nil when the component is not running.
type Sources struct {
	Loop       func() control.Stats
	Drone      func() tello.Status
	FrameSinks func() []distribution.SinkStats
	TickSinks  func() []distribution.SinkStats
	Telemetry  func() TelemetryStats
	Stopping   func() bool
}

// TelemetryStats describes the gRPC stream clients.
type TelemetryStats struct {
	Clients int    `json:"clients"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// Status is the /api/status body.
type Status struct {
	Session    string                   `json:"session"`
	Handler    string                   `json:"handler"`
	Started    time.Time                `json:"started"`
	Uptime     string                   `json:"uptime"`
	Version    string                   `json:"version"`
	GitSHA     string                   `json:"git_sha"`
	Stopping   bool                     `json:"stopping"`
	Loop       *control.Stats           `json:"loop,omitempty"`
	Drone      *tello.Status            `json:"drone,omitempty"`
	FrameSinks []distribution.SinkStats `json:"frame_sinks,omitempty"`
	TickSinks  []distribution.SinkStats `json:"tick_sinks,omitempty"`
	Telemetry  *TelemetryStats          `json:"telemetry,omitempty"`
}

type Server struct {
	session *control.Session
	handler string
	src     Sources
	db      *db.DB
}

// NewServer creates the API for one session. db may be nil, in which case
// the session endpoints answer 404.
func NewServer(s *control.Session, handler string, src Sources, database *db.DB) *Server {
	return &Server{session: s, handler: handler, src: src, db: database}
}

// Status assembles the current status snapshot.
func (s *Server) Status() Status {
	st := Status{
		Session: s.session.ID.String(),
		Handler: s.handler,
		Started: s.session.Started,
		Uptime:  s.session.Clock.Since(s.session.Started).Truncate(time.Second).String(),
		Version: version.Version,
		GitSHA:  version.GitSHA,
	}
	if s.src.Stopping != nil {
		st.Stopping = s.src.Stopping()
	}
	if s.src.Loop != nil {
		ls := s.src.Loop()
		st.Loop = &ls
	}
	if s.src.Drone != nil {
		ds := s.src.Drone()
		st.Drone = &ds
	}
	if s.src.FrameSinks != nil {
		st.FrameSinks = s.src.FrameSinks()
	}
	if s.src.TickSinks != nil {
		st.TickSinks = s.src.TickSinks()
	}
	if s.src.Telemetry != nil {
		ts := s.src.Telemetry()
		st.Telemetry = &ts
	}
	return st
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/version", s.showVersion)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/sessions/{id}/samples", s.listSamples)
	mux.HandleFunc("/api/sessions/{id}/chart", s.showChart)
	return mux
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	httputil.WriteJSONOK(w, s.Status())
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if s.db == nil {
		httputil.NotFound(w, "flight log disabled")
		return
	}
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = n
	}
	sessions, err := s.db.Sessions(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve sessions: %v", err))
		return
	}
	httputil.WriteJSONOK(w, sessions)
}

// sessionID parses the {id} path value, writing the error response itself.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return uuid.Nil, false
	}
	if s.db == nil {
		httputil.NotFound(w, "flight log disabled")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httputil.BadRequest(w, "Invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) listSamples(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	samples, err := s.db.Samples(id)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve samples: %v", err))
		return
	}
	if samples == nil {
		samples = []db.Sample{}
	}
	httputil.WriteJSONOK(w, samples)
}

func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	points, err := s.sessionPoints(id)
	if errors.Is(err, sql.ErrNoRows) {
		httputil.NotFound(w, "no samples for session")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to load session: %v", err))
		return
	}
	var buf bytes.Buffer
	if err := report.RenderChart(&buf, points, id.String()); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// sessionPoints joins stored samples with their issued commands.
func (s *Server) sessionPoints(id uuid.UUID) ([]report.Point, error) {
	samples, err := s.db.Samples(id)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, sql.ErrNoRows
	}
	cmds, err := s.db.CommandsBySeq(id)
	if err != nil {
		return nil, err
	}
	points := make([]report.Point, 0, len(samples))
	for _, smp := range samples {
		if smp.Starved {
			continue
		}
		c := cmds[smp.Seq]
		points = append(points, report.Point{
			Seq:       smp.Seq,
			At:        smp.At,
			Tracked:   smp.TargetX != nil,
			PanError:  smp.PanError,
			TiltError: smp.TiltError,
			Lateral:   c.Lateral,
			Vertical:  c.Vertical,
		})
	}
	return points, nil
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

func statusCodeColor(code int) string {
	switch {
	case code >= 200 && code < 300:
		return colorBoldGreen + strconv.Itoa(code) + colorReset
	case code >= 300 && code < 400:
		return colorYellow + strconv.Itoa(code) + colorReset
	case code >= 400:
		return colorBoldRed + strconv.Itoa(code) + colorReset
	default:
		return strconv.Itoa(code)
	}
}

// LoggingMiddleware logs method, path, status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logf("[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}
