package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the thin HTTP shell around the realtime endpoint: the websocket
// upgrade path, health and metrics. All ride semantics live behind /ws.
type Server struct {
	logger *slog.Logger
	ws     http.Handler
	mux    *mux.Router
}

func NewServer(logger *slog.Logger, wsHandler http.Handler) *Server {
	s := &Server{logger: logger, ws: wsHandler, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/ws", s.ws)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }
