package reminders

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
)

// Summary is the end-of-run report.
type Summary struct {
	Job          string         `json:"job"`
	Started      time.Time      `json:"started"`
	Finished     time.Time      `json:"finished"`
	DryRun       bool           `json:"dry_run"`
	Processed    int            `json:"processed"`
	Sent         int            `json:"sent"`
	Simulated    int            `json:"simulated"`
	Failed       int            `json:"failed"`
	Charged      int            `json:"charged"`
	ChargeFailed int            `json:"charge_failed"`
	Skipped      map[string]int `json:"skipped"`
	SentByWindow map[string]int `json:"sent_by_window"`
	// SkippedRun is set when the whole run was skipped.
	SkippedRun string `json:"skipped_run,omitempty"`
}

func newSummary(job string, now time.Time, dryRun bool) *Summary {
	return &Summary{
		Job:          job,
		Started:      now,
		DryRun:       dryRun,
		Skipped:      make(map[string]int),
		SentByWindow: make(map[string]int),
	}
}

func (s *Summary) skip(reason string) {
	s.Skipped[reason]++
}

func (s *Summary) sent(window string, simulated bool) {
	s.Sent++
	s.SentByWindow[window]++
	if simulated {
		s.Simulated++
	}
}

// TotalSkipped sums skips over all reasons.
func (s *Summary) TotalSkipped() int {
	total := 0
	for _, n := range s.Skipped {
		total += n
	}
	return total
}

func (s *Summary) Fields() logrus.Fields {
	return logrus.Fields{
		"processed":     s.Processed,
		"sent":          s.Sent,
		"simulated":     s.Simulated,
		"skipped":       s.TotalSkipped(),
		"skip_reasons":  s.Skipped,
		"failed":        s.Failed,
		"charged":       s.Charged,
		"charge_failed": s.ChargeFailed,
		"dry_run":       s.DryRun,
	}
}

// emit publishes the summary as an OpenTelemetry log record. Without a
// configured provider the global no-op logger drops it.
func (s *Summary) emit(ctx context.Context, runID string, err error) {
	var rec otellog.Record
	rec.SetTimestamp(s.Finished)
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("run complete"))
	if err != nil {
		rec.SetSeverity(otellog.SeverityError)
		rec.SetBody(otellog.StringValue(err.Error()))
	}
	rec.AddAttributes(
		otellog.String("job", s.Job),
		otellog.String("run_id", runID),
		otellog.Bool("dry_run", s.DryRun),
		otellog.Int("processed", s.Processed),
		otellog.Int("sent", s.Sent),
		otellog.Int("skipped", s.TotalSkipped()),
		otellog.Int("failed", s.Failed),
		otellog.Int("charged", s.Charged),
		otellog.Int("charge_failed", s.ChargeFailed),
	)
	if s.SkippedRun != "" {
		rec.AddAttributes(otellog.String("skipped_run", s.SkippedRun))
	}
	global.Logger("rentcycle.reminders").Emit(ctx, rec)
}
