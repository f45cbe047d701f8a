// Package web provides the HTTP status and control server of the relay controller.
package web

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/relay-controller/internal/status"
)

// Commander applies a remote write to a channel by id. It reports false
// for unknown channels.
type Commander interface {
	Set(id int, on bool, source string) bool
}

// Options configures a Server. Nil Commander makes the API read-only; nil
// Gatherer disables /metrics.
type Options struct {
	Tracker   *status.Tracker
	Commander Commander
	Gatherer  prometheus.Gatherer
	Logger    *slog.Logger
}

// Server serves the status page, JSON API and metrics over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	commander  Commander
	logger     *slog.Logger
}

// New creates a Server listening on addr.
func New(addr string, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		tracker:   opts.Tracker,
		commander: opts.Commander,
		logger:    logger.With("component", "web"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", s.handleIndex)
	r.Get("/index.html", s.handleIndex)
	r.Get("/index.json", s.handleJSON)
	r.Get("/healthz", s.handleHealth)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Route("/api/channels", func(r chi.Router) {
		r.Get("/", s.handleChannels)
		r.Get("/{id}", s.handleChannel)
		r.Put("/{id}", s.handleSetChannel)
	})

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// Handler returns the router. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.logger.Warn("render index failed", "error", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	out := make([]status.ChannelJSON, 0, len(snap.Channels))
	for _, c := range snap.Channels {
		out = append(out, status.ChannelToJSON(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) channelID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "channel id must be an integer")
		return 0, false
	}
	return id, true
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.channelID(w, r)
	if !ok {
		return
	}
	c, found := s.tracker.Snapshot().Channel(id)
	if !found {
		writeError(w, http.StatusNotFound, "unknown channel")
		return
	}
	writeJSON(w, http.StatusOK, status.ChannelToJSON(c))
}

func (s *Server) handleSetChannel(w http.ResponseWriter, r *http.Request) {
	if s.commander == nil {
		writeError(w, http.StatusMethodNotAllowed, "control disabled")
		return
	}
	id, ok := s.channelID(w, r)
	if !ok {
		return
	}
	on, err := decodeCommand(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.commander.Set(id, on, "http") {
		writeError(w, http.StatusNotFound, "unknown channel")
		return
	}
	s.logger.Debug("remote write queued", "channel", id, "value", on, "origin", "http")
	writeJSON(w, http.StatusAccepted, CommandResponse{ID: id, On: on, Accepted: true})
}
