/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package reminders runs the windowed SMS reminder jobs. One generic Runner
// walks candidate transactions page by page; each job is a Definition that
// decides which window applies and what the message says.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jerry-enebeli/rentcycle/calendar"
	redlock "github.com/jerry-enebeli/rentcycle/internal/lock"
	"github.com/jerry-enebeli/rentcycle/internal/metrics"
	"github.com/jerry-enebeli/rentcycle/model"
	"github.com/jerry-enebeli/rentcycle/sms"
	"github.com/jerry-enebeli/rentcycle/store"
)

// Defaults applied by NewRunner.
const (
	DefaultPageSize    = 100
	DefaultMaxPages    = 50
	DefaultCallTimeout = 20 * time.Second
	DefaultLockTTL     = 10 * time.Minute
	DefaultHorizon     = 60 * 24 * time.Hour
)

// Options are the per-invocation batch controls.
type Options struct {
	// DryRun logs would-be messages and charges without dispatching or
	// writing anything.
	DryRun  bool
	Verbose bool
	// MaxSends caps sends in this run. Zero means unlimited.
	MaxSends int
	// OnlyPhone restricts dispatch to a single recipient number.
	OnlyPhone string
	// Now overrides the clock for deterministic window testing.
	Now time.Time
}

type Config struct {
	PageSize    int
	MaxPages    int
	CallTimeout time.Duration
	LockTTL     time.Duration
	// CoverageHorizon is how close to the end of holiday data a run starts
	// warning.
	CoverageHorizon time.Duration
	// StrictCoverage blocks charging once holiday data is exhausted.
	StrictCoverage bool
}

// Locker fences overlapping runs of one job.
type Locker interface {
	Hold(ctx context.Context, ttl time.Duration, fn func(ctx context.Context) error) error
}

type Deps struct {
	Store      store.TransactionStore
	Dispatcher sms.Dispatcher
	Calendar   *calendar.Calendar
	// NewLocker is optional; without it runs are not fenced.
	NewLocker func(job string) Locker
}

// Runner executes one Definition.
type Runner struct {
	def  Definition
	deps Deps
	cfg  Config
	now  func() time.Time
}

func NewRunner(def Definition, deps Deps, cfg Config) *Runner {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.CoverageHorizon <= 0 {
		cfg.CoverageHorizon = DefaultHorizon
	}
	return &Runner{def: def, deps: deps, cfg: cfg, now: time.Now}
}

func (r *Runner) Name() string {
	return r.def.Name()
}

// Run is the state of one job invocation, handed to definitions.
type Run struct {
	ID       string
	Job      string
	Now      time.Time
	Today    string
	Options  Options
	Calendar *calendar.Calendar
	Store    store.TransactionStore
	Summary  *Summary
	Log      *logrus.Entry
	// ChargesBlocked is set when the calendar cannot be trusted for
	// lateness arithmetic on this run.
	ChargesBlocked bool

	callTimeout time.Duration
	// left counts candidates moved out of the job's states while the
	// current page was processed.
	left int
}

// LeftCandidates records that the transaction being processed no longer
// matches the candidate query, which shifts later pages of the query.
func (run *Run) LeftCandidates() {
	run.left++
}

// Call runs fn with the per-call timeout.
func (run *Run) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, run.callTimeout)
	defer cancel()
	return fn(callCtx)
}

// Run processes every candidate page. A page query failure aborts the run;
// per-transaction failures are counted and the run continues.
func (r *Runner) Run(ctx context.Context, opts Options) (*Summary, error) {
	now := opts.Now
	if now.IsZero() {
		now = r.now()
	}

	run := &Run{
		ID:          uuid.NewString(),
		Job:         r.def.Name(),
		Now:         now,
		Today:       r.deps.Calendar.DateKey(now),
		Options:     opts,
		Calendar:    r.deps.Calendar,
		Store:       r.deps.Store,
		Summary:     newSummary(r.def.Name(), now, opts.DryRun),
		callTimeout: r.cfg.CallTimeout,
	}
	run.Log = runLogger(opts.Verbose).WithFields(logrus.Fields{"job": run.Job, "run_id": run.ID})

	started := time.Now()
	var err error
	if r.deps.NewLocker != nil {
		err = r.deps.NewLocker(run.Job).Hold(ctx, r.cfg.LockTTL, func(ctx context.Context) error {
			return r.runPages(ctx, run)
		})
		if errors.Is(err, redlock.ErrHeld) {
			run.Summary.SkippedRun = "already running"
			run.Log.Warn("skipped: another run of this job holds the lock")
			err = nil
		}
	} else {
		err = r.runPages(ctx, run)
	}

	run.Summary.Finished = time.Now()
	run.Summary.emit(ctx, run.ID, err)
	metrics.JobRunDuration.WithLabelValues(run.Job).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.JobRunsTotal.WithLabelValues(run.Job, "error").Inc()
		return run.Summary, err
	}
	metrics.JobRunsTotal.WithLabelValues(run.Job, "ok").Inc()
	run.Log.WithFields(run.Summary.Fields()).Info("run complete")
	return run.Summary, nil
}

// runLogger returns the standard logger, or for verbose runs a debug-level
// copy of it so the level does not outlive the run.
func runLogger(verbose bool) *logrus.Logger {
	std := logrus.StandardLogger()
	if !verbose {
		return std
	}
	l := logrus.New()
	l.SetOutput(std.Out)
	l.SetFormatter(std.Formatter)
	l.SetReportCaller(std.ReportCaller)
	l.ReplaceHooks(std.Hooks)
	l.SetLevel(logrus.DebugLevel)
	return l
}

func (r *Runner) runPages(ctx context.Context, run *Run) error {
	ctx, span := otel.Tracer("rentcycle.reminders").Start(ctx, "Run "+run.Job)
	defer span.End()
	span.SetAttributes(attribute.String("run.id", run.ID), attribute.Bool("run.dry_run", run.Options.DryRun))

	if err := r.deps.Calendar.CheckCoverage(run.Now, r.cfg.CoverageHorizon); err != nil {
		if r.cfg.StrictCoverage && errors.Is(err, calendar.ErrCoverageExhausted) {
			run.ChargesBlocked = true
			run.Log.WithError(err).Error("holiday coverage exhausted, charges disabled for this run")
		} else {
			run.Log.WithError(err).Warn("holiday coverage")
		}
	}

	filter := store.Filter{States: r.def.States()}
	seen := make(map[string]bool)
	for page := 1; page <= r.cfg.MaxPages; {
		var result *store.Page
		err := run.Call(ctx, func(ctx context.Context) error {
			var err error
			result, err = r.deps.Store.Query(ctx, filter, store.Pagination{Page: page, PerPage: r.cfg.PageSize})
			return err
		})
		if err != nil {
			span.RecordError(err)
			return pkgerrors.Wrapf(err, "%s: query candidates page %d", run.Job, page)
		}

		run.left = 0
		for _, txn := range result.Transactions {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if seen[txn.ID] {
				continue
			}
			seen[txn.ID] = true
			r.process(ctx, run, txn)
		}

		if !result.HasNext() {
			return nil
		}
		// Candidates that left this page pulled later ones into it, so the
		// same page is read again before moving on.
		if run.left > 0 {
			continue
		}
		if page == r.cfg.MaxPages {
			run.Log.WithField("max_pages", r.cfg.MaxPages).Warn("page limit reached, remaining candidates wait for the next run")
		}
		page++
	}
	return nil
}

func (r *Runner) process(ctx context.Context, run *Run, txn *model.Transaction) {
	run.Summary.Processed++
	log := run.Log.WithFields(logrus.Fields{"transaction_id": txn.ID, "state": txn.State})

	if !txn.InState(r.def.States()...) {
		r.skip(run, log, ReasonWrongState)
		return
	}

	r.notify(ctx, run, txn, log)

	if f, ok := r.def.(FollowUp); ok {
		f.FollowUp(ctx, run, txn)
	}
}

func (r *Runner) notify(ctx context.Context, run *Run, txn *model.Transaction, log *logrus.Entry) {
	w, err := r.def.Evaluate(run, txn)
	if err != nil {
		r.fail(run, log, err, "window evaluation failed")
		return
	}
	if w == nil {
		r.skip(run, log, ReasonNotInWindow)
		return
	}
	log = log.WithField("window", w.Name)

	if r.def.Scanned(txn) {
		r.skip(run, log, ReasonScanned)
		return
	}
	party := recipient(txn, w.Recipient)
	blocked := r.undeliverable(party)
	if run.Options.OnlyPhone != "" {
		if blocked == ReasonNoPhone {
			r.skip(run, log, ReasonNoPhone)
			return
		}
		if !sms.SamePhone(party.Phone, run.Options.OnlyPhone) {
			r.skip(run, log, ReasonOnlyPhone)
			return
		}
	}
	if w.AlreadySent(txn.Metadata) {
		if blocked == "" {
			blocked = ReasonAlreadySent
		}
		r.skip(run, log, blocked)
		return
	}

	// Runs even when the notice cannot go out in this run.
	if p, ok := r.def.(Preparer); ok {
		proceed, err := p.Prepare(ctx, run, txn, w)
		if err != nil {
			r.fail(run, log, err, "prepare failed")
			return
		}
		if !proceed {
			r.skip(run, log, ReasonNotCanceled)
			return
		}
	}

	if blocked != "" {
		r.skip(run, log, blocked)
		return
	}
	if run.Options.MaxSends > 0 && run.Summary.Sent >= run.Options.MaxSends {
		r.skip(run, log, ReasonMaxSends)
		return
	}

	body := r.def.Compose(ctx, run, txn, w)
	if run.Options.DryRun {
		log.WithFields(logrus.Fields{"to": party.Phone, "body": body}).Info("dry run: would send")
		run.Summary.sent(w.Name, false)
		return
	}

	var res *sms.Result
	err = run.Call(ctx, func(ctx context.Context) error {
		var err error
		res, err = r.deps.Dispatcher.Send(ctx, party.Phone, body, sms.Options{
			Tag:      run.Job + "/" + w.Name,
			Metadata: map[string]string{"transaction_id": txn.ID, "window": w.Name},
		})
		return err
	})
	if err != nil {
		r.fail(run, log, err, "send failed")
		return
	}

	simulated := sms.IsSimulated(res)
	metrics.RemindersSentTotal.WithLabelValues(run.Job, w.Name, strconv.FormatBool(simulated)).Inc()
	if simulated && !w.PersistWhenSimulated {
		log.WithField("sid", res.SID).Info("simulated send, flag left unset")
		run.Summary.sent(w.Name, true)
		return
	}

	err = run.Call(ctx, func(ctx context.Context) error {
		_, err := r.deps.Store.UpdateMetadata(ctx, txn.ID, w.Patch())
		return err
	})
	if err != nil {
		r.fail(run, log, err, fmt.Sprintf("sent %s but failed to persist %s", res.SID, w.FlagPath))
		return
	}
	log.WithField("sid", res.SID).Info("reminder sent")
	run.Summary.sent(w.Name, simulated)
}

// undeliverable reports why no notice can reach party in this run.
func (r *Runner) undeliverable(party *model.Party) string {
	switch {
	case party == nil || sms.NormalizePhone(party.Phone) == "":
		return ReasonNoPhone
	case r.deps.Dispatcher == nil || !r.deps.Dispatcher.Available():
		return ReasonUnavailable
	}
	return ""
}

func (r *Runner) skip(run *Run, log *logrus.Entry, reason string) {
	run.Summary.skip(reason)
	metrics.RemindersSkippedTotal.WithLabelValues(run.Job, reason).Inc()
	log.WithField("reason", reason).Debug("skipped")
}

func (r *Runner) fail(run *Run, log *logrus.Entry, err error, msg string) {
	run.Summary.Failed++
	metrics.RemindersFailedTotal.WithLabelValues(run.Job).Inc()
	log.WithError(err).Error(msg)
}
