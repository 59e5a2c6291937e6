package indexer

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// NewRouter serves liveness, readiness and metrics. ready is asked on every
// /readyz request.
func NewRouter(ready func(ctx context.Context) error, metrics http.Handler) *mux.Router {
	r := mux.NewRouter()

	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })).Methods("GET")
	r.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := ready(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})).Methods("GET")
	r.Handle("/metrics", metrics).Methods("GET")

	return r
}

// SetupServer sets up the HTTP server.
func (a *App) SetupServer(addr string) {
	a.Server = &http.Server{
		Addr:              addr,
		Handler:           NewRouter(a.Ready, a.Metrics.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
