package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/product-fusion/internal/model"
	"github.com/sells-group/product-fusion/internal/monitoring"
	"github.com/sells-group/product-fusion/internal/pipeline"
	"github.com/sells-group/product-fusion/internal/resilience"
	"github.com/sells-group/product-fusion/internal/store"
)

var servePort int

// serveOptions tunes the read API.
type serveOptions struct {
	RateLimit     float64
	Burst         int
	LookbackHours int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve fused records, runs and health over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		collector := monitoring.NewCollector(st)
		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		mux := buildMux(st, collector, serveOptions{
			RateLimit:     cfg.Server.RateLimit,
			Burst:         cfg.Server.Burst,
			LookbackHours: cfg.Monitoring.LookbackWindowHours,
		})
		return startServer(ctx, mux, resolvePort(servePort, cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func resolvePort(flag, configured int) int {
	if flag != 0 {
		return flag
	}
	return configured
}

// startServer serves handler on port until ctx is cancelled.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

// buildMux wires the read API. A nil store serves only /health.
func buildMux(st store.Store, collector *monitoring.Collector, opts serveOptions) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if st != nil {
			if err := st.Ping(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if st != nil {
		mux.HandleFunc("GET /records", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			records, err := st.ListRecords(r.Context(), store.RecordFilter{
				RunID:           q.Get("run"),
				VerticalID:      q.Get("vertical"),
				IncludeExcluded: q.Get("include_excluded") == "true",
				Limit:           queryInt(q.Get("limit")),
				Offset:          queryInt(q.Get("offset")),
			})
			respond(w, records, err)
		})

		mux.HandleFunc("GET /records/{id}", func(w http.ResponseWriter, r *http.Request) {
			rec, err := st.GetRecord(r.Context(), r.PathValue("id"))
			respond(w, rec, err)
		})

		mux.HandleFunc("GET /records/{id}/provenance", func(w http.ResponseWriter, r *http.Request) {
			rec, err := st.GetRecord(r.Context(), r.PathValue("id"))
			if err != nil {
				respond(w, nil, err)
				return
			}
			respond(w, pipeline.BuildProvenance("", rec, nil), nil)
		})

		mux.HandleFunc("GET /runs", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			runs, err := st.ListRuns(r.Context(), store.RunFilter{
				Status:   model.RunStatus(q.Get("status")),
				Vertical: q.Get("vertical"),
				Limit:    queryInt(q.Get("limit")),
				Offset:   queryInt(q.Get("offset")),
			})
			respond(w, runs, err)
		})

		mux.HandleFunc("GET /runs/{id}", func(w http.ResponseWriter, r *http.Request) {
			run, err := st.GetRun(r.Context(), r.PathValue("id"))
			respond(w, run, err)
		})

		mux.HandleFunc("GET /runs/{id}/cardinalities", func(w http.ResponseWriter, r *http.Request) {
			cards, err := st.GetCardinalities(r.Context(), r.PathValue("id"))
			respond(w, cards, err)
		})

		mux.HandleFunc("GET /dlq", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			entries, err := st.ListDLQ(r.Context(), resilience.DLQFilter{
				RunID:    q.Get("run"),
				Category: model.ErrorCategory(q.Get("category")),
				Limit:    queryInt(q.Get("limit")),
			})
			respond(w, entries, err)
		})
	}

	if collector != nil {
		mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
			hours := opts.LookbackHours
			if h := queryInt(r.URL.Query().Get("hours")); h > 0 {
				hours = h
			}
			snap, err := collector.Collect(r.Context(), hours)
			respond(w, snap, err)
		})
	}

	if opts.RateLimit <= 0 {
		return mux
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return rateLimit(mux, rate.NewLimiter(rate.Limit(opts.RateLimit), burst))
}

// rateLimit rejects requests beyond the limiter's rate with 429.
func rateLimit(next http.Handler, limiter *rate.Limiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func respond(w http.ResponseWriter, v any, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case err != nil:
		zap.L().Error("serve: request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	default:
		writeJSON(w, http.StatusOK, v)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
