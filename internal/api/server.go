// Package api exposes the voting engine's control surface (spec.md §6)
// over HTTP: status, test-mode, priority override, recording, CTCSS tone
// level, TX lockout, ping, and a live per-node RSSI/winner websocket feed.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/radiovoter/voter/internal/voting"
)

// RecorderFactory opens a new recording sink for the record(node, path)
// operation, decoupling the API from the concrete recorder implementation.
type RecorderFactory func(pathTemplate string) (voting.Recorder, error)

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router  *chi.Mux
	state   *voting.State
	logger  *slog.Logger
	newRec  RecorderFactory
}

// NewServer builds the control-surface HTTP handler with all routes
// mounted. newRec may be nil if recording is not supported by the caller.
func NewServer(state *voting.State, logger *slog.Logger, newRec RecorderFactory) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router: chi.NewRouter(),
		state:  state,
		logger: logger.With("subsystem", "api"),
		newRec: newRec,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Route("/nodes/{node}", func(r chi.Router) {
			r.Post("/test", s.handleTest)
			r.Post("/prio", s.handlePrio)
			r.Post("/record", s.handleRecord)
			r.Post("/tone", s.handleTone)
			r.Post("/txlockout", s.handleTXLockout)
			r.Get("/display", s.handleDisplay)
		})

		r.Post("/clients/{node}/{client}/ping", s.handlePing)
	})
}

// handleStatus implements the status() control operation.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Status())
}

type testRequest struct {
	Mode  string `json:"mode"` // "off", "random", "cycle"
	Cycle int    `json:"cycle,omitempty"`
}

// handleTest implements test(node, value).
func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	node, err := parseNode(chi.URLParam(r, "node"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req testRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	var mode voting.TestMode
	switch req.Mode {
	case "off", "":
		mode = voting.TestModeOff
	case "random":
		mode = voting.TestModeRandom
	case "cycle":
		mode = voting.TestModeCycle
	default:
		writeError(w, http.StatusBadRequest, "mode must be off, random, or cycle")
		return
	}

	if err := s.state.SetTestMode(node, mode, req.Cycle); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type prioRequest struct {
	Client string `json:"client"`
	Value  *int   `json:"value"` // nil/absent and "off" both clear the override
	Off    bool   `json:"off,omitempty"`
}

// handlePrio implements prio(node, client, value).
func (s *Server) handlePrio(w http.ResponseWriter, r *http.Request) {
	node, err := parseNode(chi.URLParam(r, "node"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req prioRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.Client == "" {
		writeError(w, http.StatusBadRequest, "client is required")
		return
	}

	value := voting.PrioInactive
	if !req.Off && req.Value != nil {
		value = *req.Value
	}

	if err := s.state.SetPriorityOverride(node, req.Client, value); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type recordRequest struct {
	Path string `json:"path"` // empty stops recording
}

// handleRecord implements record(node, path).
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	node, err := parseNode(chi.URLParam(r, "node"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req recordRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if req.Path == "" {
		if err := s.state.SetRecorder(node, nil); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, nil)
		return
	}

	if s.newRec == nil {
		writeError(w, http.StatusNotImplemented, "recording is not supported by this server")
		return
	}
	rec, err := s.newRec(req.Path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.state.SetRecorder(node, rec); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type toneRequest struct {
	LevelDB float64 `json:"level_db"`
}

// handleTone implements tone(node, level).
func (s *Server) handleTone(w http.ResponseWriter, r *http.Request) {
	node, err := parseNode(chi.URLParam(r, "node"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req toneRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := s.state.SetToneLevel(node, req.LevelDB); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type txLockoutRequest struct {
	Spec string `json:"spec"` // "all", "none", or "+client,-client,..."
}

// handleTXLockout implements txlockout(node, all|none|±client,±client…).
func (s *Server) handleTXLockout(w http.ResponseWriter, r *http.Request) {
	node, err := parseNode(chi.URLParam(r, "node"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req txLockoutRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := s.state.SetTXLockout(node, req.Spec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type pingRequest struct {
	Count int `json:"count"` // 0 aborts an in-progress batch
}

// handlePing implements ping(client, count|0).
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	node, err := parseNode(chi.URLParam(r, "node"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	client := chi.URLParam(r, "client")
	var req pingRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := s.state.PingByName(node, client, req.Count); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
