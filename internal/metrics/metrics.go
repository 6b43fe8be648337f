// Package metrics exposes Prometheus counters for platform requests and
// scan polling. A nil *Collector is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so tests and the sandbox don't share
// the global default registry.
type Collector struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	pollAttempts    prometheus.Counter
	pollErrors      prometheus.Counter
	pollOutcomes    *prometheus.CounterVec
	checks          *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "yoroprobe_request_duration_seconds",
				Help:    "Latency of requests to the scanning platform",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "code"},
		),
		pollAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yoroprobe_poll_attempts_total",
			Help: "Total number of scan status requests issued by the poller",
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yoroprobe_poll_errors_total",
			Help: "Total number of poll attempts that failed and were skipped",
		}),
		pollOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yoroprobe_poll_outcomes_total",
				Help: "Poll results by outcome",
			},
			[]string{"outcome"},
		),
		checks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yoroprobe_checks_total",
				Help: "Smoke suite checks by result",
			},
			[]string{"result"},
		),
	}
	c.registry.MustRegister(c.requestDuration, c.pollAttempts, c.pollErrors, c.pollOutcomes, c.checks)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one platform request. code 0 means the request
// never got a response.
func (c *Collector) ObserveRequest(method, route string, code int, d time.Duration) {
	if c == nil {
		return
	}
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	c.requestDuration.WithLabelValues(method, route, label).Observe(d.Seconds())
}

func (c *Collector) PollAttempt() {
	if c != nil {
		c.pollAttempts.Inc()
	}
}

func (c *Collector) PollError() {
	if c != nil {
		c.pollErrors.Inc()
	}
}

func (c *Collector) PollOutcome(outcome string) {
	if c != nil {
		c.pollOutcomes.WithLabelValues(outcome).Inc()
	}
}

// Check records a smoke suite check result.
func (c *Collector) Check(passed bool) {
	if c == nil {
		return
	}
	if passed {
		c.checks.WithLabelValues("pass").Inc()
	} else {
		c.checks.WithLabelValues("fail").Inc()
	}
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
