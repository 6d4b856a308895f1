package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// SessionInfo describes one live session for the /sessions endpoint.
type SessionInfo struct {
	ID          string    `json:"id"`
	Peer        string    `json:"peer"`
	Created     time.Time `json:"created"`
	Pid         int       `json:"pid,omitempty"`
	OutputBytes uint64    `json:"output_bytes"`
}

// SessionLister returns the sessions currently registered.
type SessionLister func() []SessionInfo

// NewRouter mounts the observability endpoints:
//
//	GET /metrics   Prometheus text format
//	GET /healthz   liveness plus the JSON snapshot
//	GET /sessions  live sessions
func NewRouter(c *Collector, sessions SessionLister) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Method(http.MethodGet, "/metrics", c.Handler())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		c.RecordHealthCheck()
		writeJSON(w, http.StatusOK, c.Snapshot())
	})

	r.Get("/sessions", func(w http.ResponseWriter, _ *http.Request) {
		list := []SessionInfo{}
		if sessions != nil {
			if s := sessions(); s != nil {
				list = s
			}
		}
		writeJSON(w, http.StatusOK, list)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve runs an HTTP server for h on addr until ctx is cancelled, then
// shuts it down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
