// Package metrics runs the operator-facing listener for modqd: prometheus metrics, build version, profiling, and a readiness check over the service's backing stores.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Bound on a single readiness check.
const checkTimeout = 2 * time.Second

var readinessFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modq_readiness_check_failures",
	Help: "Number of failed readiness checks, by dependency",
}, []string{"check"})

// A named dependency which must answer for the service to be ready, eg the database or redis.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type checkResult struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type pingResponse struct {
	Status string        `json:"status"`
	Checks []checkResult `json:"checks,omitempty"`
}

func VersionHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "%s\n", versioninfo.Short()) // nolint:errcheck
}

// Runs every check in order and answers 200 when all pass, 503 otherwise. Each check gets its own timeout.
func PingHandler(checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := pingResponse{Status: "ok"}
		code := http.StatusOK
		for _, c := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			err := c.Ping(ctx)
			cancel()
			res := checkResult{Name: c.Name, OK: err == nil}
			if err != nil {
				res.Error = err.Error()
				resp.Status = "unavailable"
				code = http.StatusServiceUnavailable
				readinessFailures.WithLabelValues(c.Name).Inc()
				slog.Warn("readiness check failed", "check", c.Name, "err", err)
			}
			resp.Checks = append(resp.Checks, res)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// Routes for the operator listener. Registered on a private mux so that tests and embedders don't touch http.DefaultServeMux.
func NewMux(checks ...Check) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/version", VersionHandler)
	mux.Handle("/ping", PingHandler(checks...))
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// Serves NewMux on a dedicated listener until ctx is done. An empty addr disables the server.
func RunServer(ctx context.Context, cancel context.CancelFunc, addr string, checks ...Check) error {
	if addr == "" {
		slog.Info("metrics server disabled")
		return nil
	}

	defer cancel()

	srv := &http.Server{
		Addr:         addr,
		Handler:      NewMux(checks...),
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to shut down metrics server", "err", err)
		}
	}()

	slog.Info("metrics server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
