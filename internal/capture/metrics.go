package capture

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamlens/jitterlens/internal/model"
)

// Metrics exposes the running capture session's task counters on
// --metrics-addr, mirroring the teacher's /metrics + /livez + /readyz
// server.
type Metrics struct {
	TaskRuns     *prometheus.CounterVec
	TaskSkipped  *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec

	ready *atomic.Bool
	reg   *prometheus.Registry
}

// NewMetrics registers the capture counters against a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		TaskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jitterlens_capture_task_runs_total",
			Help: "Count of dumpsys task runs by task and outcome.",
		}, []string{"task", "status"}),
		TaskSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jitterlens_capture_task_skipped_total",
			Help: "Count of dumpsys tasks skipped due to queue busy.",
		}, []string{"task"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jitterlens_capture_task_duration_seconds",
			Help:    "Dumpsys task run duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"task"}),
		ready: &atomic.Bool{},
		reg:   reg,
	}
	reg.MustRegister(m.TaskRuns, m.TaskSkipped, m.TaskDuration)
	return m
}

func (m *Metrics) taskObserve(task string, status model.SnapshotStatus, dur time.Duration) {
	m.TaskRuns.WithLabelValues(task, string(status)).Inc()
	m.TaskDuration.WithLabelValues(task).Observe(dur.Seconds())
}

// Serve starts the metrics HTTP server on addr until ctx is canceled.
// An empty addr disables the server entirely (C12 is opt-in).
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	m.ready.Store(true)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if m.ready.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shctx)
	case err := <-errCh:
		return err
	}
}
