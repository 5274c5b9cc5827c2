package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jerry-enebeli/rentcycle/internal/notification"
	"github.com/jerry-enebeli/rentcycle/reminders"
)

type jobFlags struct {
	dryRun    bool
	verbose   bool
	limit     int
	onlyPhone string
	now       string
	daemon    bool
	interval  time.Duration
}

func (f jobFlags) options(b *rentcycleInstance) (reminders.Options, error) {
	opts := reminders.Options{
		DryRun:    f.dryRun,
		Verbose:   f.verbose,
		MaxSends:  f.limit,
		OnlyPhone: f.onlyPhone,
	}
	if f.now != "" {
		now, err := b.app.Calendar().ParseDate(f.now)
		if err != nil {
			return opts, fmt.Errorf("invalid --now: %w", err)
		}
		opts.Now = now
	}
	return opts, nil
}

// jobCommands returns one standalone command per reminder job.
func jobCommands(b *rentcycleInstance) []*cobra.Command {
	short := map[string]string{
		reminders.ReturnJob:   "send return reminders for rentals due today or tomorrow",
		reminders.ShippingJob: "send ship-by reminders and auto-cancel unshipped rentals",
		reminders.OverdueJob:  "send overdue reminders and apply late charges",
	}

	var cmds []*cobra.Command
	for _, job := range []string{reminders.ReturnJob, reminders.ShippingJob, reminders.OverdueJob} {
		cmds = append(cmds, jobCommand(b, job, short[job]))
	}
	return cmds
}

func jobCommand(b *rentcycleInstance, job, short string) *cobra.Command {
	var flags jobFlags

	cmd := &cobra.Command{
		Use:   job,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := b.app.Runner(job)
			if err != nil {
				return err
			}
			opts, err := flags.options(b)
			if err != nil {
				return err
			}

			if flags.daemon {
				interval := flags.interval
				if interval <= 0 {
					interval = b.cnf.Jobs.Interval()
				}
				return runDaemon(cmd.Context(), runner, opts, interval)
			}

			summary, err := runner.Run(cmd.Context(), opts)
			if err != nil {
				notification.NotifyError(job, err)
				return err
			}
			return printSummary(summary)
		},
	}

	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "log what would be sent or charged without side effects")
	cmd.Flags().BoolVar(&flags.verbose, "verbose", false, "log every skip decision")
	cmd.Flags().IntVar(&flags.limit, "limit", 0, "maximum messages to send in this run (0 means unlimited)")
	cmd.Flags().StringVar(&flags.onlyPhone, "only-phone", "", "only message this phone number")
	cmd.Flags().StringVar(&flags.now, "now", "", "evaluate windows at this time (YYYY-MM-DD or RFC3339)")
	cmd.Flags().BoolVar(&flags.daemon, "daemon", false, "keep running on an interval")
	cmd.Flags().DurationVar(&flags.interval, "interval", 0, "daemon interval (defaults to jobs.interval_sec)")
	return cmd
}

// runDaemon runs the job immediately and then on every tick until SIGINT or
// SIGTERM. A failed run is reported and the loop continues.
func runDaemon(ctx context.Context, runner *reminders.Runner, opts reminders.Options, interval time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !opts.Now.IsZero() {
		logrus.Warn("--now is ignored in daemon mode")
		opts.Now = time.Time{}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logrus.Infof("%s daemon started with interval: %v", runner.Name(), interval)
	for {
		if _, err := runner.Run(ctx, opts); err != nil {
			notification.NotifyError(runner.Name(), err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			logrus.Infof("%s daemon stopping...", runner.Name())
			return nil
		}
	}
}

func printSummary(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
