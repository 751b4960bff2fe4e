package harness

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/ValentinKolb/dKVcheck/lib/check/stats"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ActiveBlock is a block the exercise phase currently works on.
type ActiveBlock struct {
	Start int64 `json:"start"`
	A     int64 `json:"a"`
	B     int64 `json:"b"`
}

// Status is the progress of a run as served by the status endpoint.
type Status struct {
	Phase        string         `json:"phase"`
	Seed         string         `json:"seed,omitempty"`
	BlocksTotal  int            `json:"blocks_total"`
	BlocksDone   int64          `json:"blocks_done"`
	ActiveBlocks []ActiveBlock  `json:"active_blocks"`
	Stats        stats.Snapshot `json:"stats"`
}

// Status returns the current progress of the run.
func (h *Harness) Status() Status {
	st := Status{
		Phase:        h.Phase().String(),
		BlocksTotal:  len(h.blocks()),
		BlocksDone:   h.blocksDone.Load(),
		ActiveBlocks: []ActiveBlock{},
		Stats:        h.stats.Snapshot(),
	}
	if seed := h.Seed(); seed != 0 {
		st.Seed = formatSeed(seed)
	}
	h.active.Range(func(start int64, p *blockProgress) bool {
		st.ActiveBlocks = append(st.ActiveBlocks, ActiveBlock{
			Start: start,
			A:     p.a.Load(),
			B:     p.b.Load(),
		})
		return true
	})
	sort.Slice(st.ActiveBlocks, func(i, j int) bool {
		return st.ActiveBlocks[i].Start < st.ActiveBlocks[j].Start
	})
	return st
}

// Handler returns the router of the status endpoint:
//
//	GET /health   liveness
//	GET /stats    Status as JSON
//	GET /metrics  counters in the Prometheus text format
func (h *Harness) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(h.Status()); err != nil {
			Logger.Warningf("failed to encode status: %v", err)
		}
	})

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		h.stats.WritePrometheus(w)
	})

	return r
}

// ServeStatus serves the status endpoint on addr until ctx is done.
func (h *Harness) ServeStatus(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	Logger.Infof("status endpoint listening on %s", ln.Addr())
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
