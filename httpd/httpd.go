// Package httpd serves the upcoming-arrivals JSON API over a fixed set of
// registered paths, grounded on the teacher's registration-map style
// (manager.go's handler wiring) generalized to HTTP with net/http.
package httpd

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/prototext"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/seanrees/gtfs-upcoming/metrics"
	"github.com/seanrees/gtfs-upcoming/model"
)

// TransitEngine is the subset of transit.Engine the HTTP handlers need.
type TransitEngine interface {
	GetUpcoming(stops []string) ([]model.Upcoming, error)
	GetScheduled(stops []string) ([]model.Upcoming, error)
	GetLive(stops []string) ([]model.Upcoming, error)
}

// FeedLoader is the subset of fetch.Fetcher the debug handler needs to show
// the raw upstream feed.
type FeedLoader interface {
	Fetch() ([]byte, error)
}

// Server is the internal webserver exposing the transit API.
type Server struct {
	engine   TransitEngine
	feed     FeedLoader
	stops    []string
	provider string
	env      string
	log      *zap.Logger

	mux *http.ServeMux
	srv *http.Server
}

// requestTimeout matches the original RequestHandler.timeout socket
// timeout of 5 seconds.
const requestTimeout = 5 * time.Second

// New constructs a Server bound to addr (e.g. ":6824"). Call Serve to start
// accepting connections.
func New(addr string, engine TransitEngine, feed FeedLoader, stops []string, provider, env string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		engine:   engine,
		feed:     feed,
		stops:    stops,
		provider: provider,
		env:      env,
		log:      log,
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("/upcoming.json", s.wrap("/upcoming.json", s.handleUpcoming))
	s.mux.HandleFunc("/scheduled.json", s.wrap("/scheduled.json", s.handleScheduled))
	s.mux.HandleFunc("/live.json", s.wrap("/live.json", s.handleLive))
	s.mux.HandleFunc("/debugz", s.wrap("/debugz", s.handleDebug))
	s.mux.HandleFunc("/", s.handleNotFound)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  requestTimeout,
		WriteTimeout: requestTimeout,
	}

	return s
}

// Serve blocks, serving until the listener errors or is shut down.
func (s *Server) Serve() error {
	s.log.Info("starting HTTP server", zap.String("addr", s.srv.Addr))
	return s.srv.ListenAndServe()
}

// wrap applies request counting and panic recovery, matching the original
// do_GET's try/except around the dispatched handler.
func (s *Server) wrap(path string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics.HTTPRequestCount.WithLabelValues(path).Inc()

		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic handling request", zap.String("path", path), zap.Any("recover", rec))
				s.sendISE(w, fmt.Errorf("%v", rec))
			}
		}()

		h(w, r)
	}
}

func (s *Server) stopsFor(r *http.Request) []string {
	if q, ok := r.URL.Query()["stop"]; ok && len(q) > 0 {
		return q
	}
	return s.stops
}

func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	data, err := s.engine.GetUpcoming(s.stopsFor(r))
	if err != nil {
		s.sendISE(w, err)
		return
	}
	s.sendJSON(w, "upcoming", data)
}

func (s *Server) handleScheduled(w http.ResponseWriter, r *http.Request) {
	data, err := s.engine.GetScheduled(s.stopsFor(r))
	if err != nil {
		s.sendISE(w, err)
		return
	}
	s.sendJSON(w, "scheduled", data)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	data, err := s.engine.GetLive(s.stopsFor(r))
	if err != nil {
		s.sendISE(w, err)
		return
	}
	s.sendJSON(w, "live", data)
}

// handleDebug renders the raw upstream FeedMessage as prototext, alongside
// its size and fetch latency, mirroring the original handle_debug.
func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	raw, err := s.feed.Fetch()
	elapsed := time.Since(start)
	if err != nil {
		s.sendISE(w, err)
		return
	}

	msg := &gtfsproto.FeedMessage{}
	if err := proto.Unmarshal(raw, msg); err != nil {
		s.sendISE(w, err)
		return
	}

	text, err := prototext.MarshalOptions{Multiline: true}.Marshal(msg)
	if err != nil {
		s.sendISE(w, err)
		return
	}

	page := s.htmlHead("Debug")
	page += fmt.Sprintf("<h1>Debug</h1><p>Interesting stops: %v</p>", s.stops)
	page += fmt.Sprintf("<pre>Received %.3f kB in %.6f seconds</pre>", float64(len(raw))/1024, elapsed.Seconds())
	page += fmt.Sprintf("<pre>%s</pre>", htmlEscape(string(text)))
	page += s.htmlFoot()

	s.sendHTML(w, http.StatusOK, page)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	metrics.HTTPUnknownPathCount.Inc()

	page := s.htmlHead("404 Not Found")
	page += fmt.Sprintf("<h1>404 Not Found</h1><p>Unknown path: %s", htmlEscape(r.URL.Path))
	page += s.htmlFoot()

	s.sendHTML(w, http.StatusNotFound, page)
}

func (s *Server) sendISE(w http.ResponseWriter, err error) {
	s.log.Error("error processing request", zap.Error(err))

	page := s.htmlHead("500 Internal Server Error")
	page += fmt.Sprintf("<h1>500 Internal Server Error</h1><p>Exception: %s", htmlEscape(err.Error()))
	page += s.htmlFoot()

	s.sendHTML(w, http.StatusInternalServerError, page)
}

func (s *Server) sendJSON(w http.ResponseWriter, key string, data []model.Upcoming) {
	envelope := map[string]interface{}{
		"current_timestamp": time.Now().Unix(),
		key:                 data,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		s.sendISE(w, err)
		return
	}

	metrics.HTTPResponseStatus.WithLabelValues("200").Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) sendHTML(w http.ResponseWriter, code int, body string) {
	metrics.HTTPResponseStatus.WithLabelValues(fmt.Sprintf("%d", code)).Inc()
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

func (s *Server) htmlHead(title string) string {
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>%s</title>
</head>
<body>
`, title)
}

func (s *Server) htmlFoot() string {
	return "</body></html>"
}

func htmlEscape(s string) string {
	return html.EscapeString(s)
}
