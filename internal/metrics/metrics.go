// Package metrics exposes job counters for Prometheus scraping in workers mode.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	JobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentcycle_job_runs_total",
		Help: "Total number of reminder job runs by outcome.",
	},
		[]string{"job", "outcome"},
	)

	JobRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rentcycle_job_run_duration_seconds",
		Help:    "Wall time of reminder job runs.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	},
		[]string{"job"},
	)

	RemindersSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentcycle_reminders_sent_total",
		Help: "Total number of reminders dispatched, simulated sends included.",
	},
		[]string{"job", "window", "simulated"},
	)

	RemindersSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentcycle_reminders_skipped_total",
		Help: "Total number of transactions skipped by reason.",
	},
		[]string{"job", "reason"},
	)

	RemindersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentcycle_reminders_failed_total",
		Help: "Total number of transactions whose reminder failed.",
	},
		[]string{"job"},
	)

	ChargesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentcycle_charges_total",
		Help: "Total number of charge attempts by outcome.",
	},
		[]string{"outcome"},
	)
)

// Serve exposes /metrics on port until ctx is cancelled.
func Serve(ctx context.Context, port string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Error("metrics server shutdown failed")
		}
	}()

	logrus.Infof("metrics available on :%s/metrics", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
