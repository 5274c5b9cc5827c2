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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jerry-enebeli/rentcycle/internal/metrics"
	"github.com/jerry-enebeli/rentcycle/internal/notification"
	"github.com/jerry-enebeli/rentcycle/reminders"
)

const jobsQueue = "jobs"

// jobPayload is carried by scheduled tasks. An empty payload runs the job
// live.
type jobPayload struct {
	DryRun bool `json:"dry_run"`
}

type jobRunner interface {
	Name() string
	Run(ctx context.Context, opts reminders.Options) (*reminders.Summary, error)
}

func jobTaskType(job string) string {
	return "job:" + job
}

func newJobTask(job string, payload jobPayload, timeout time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(jobTaskType(job), data,
		asynq.Queue(jobsQueue),
		asynq.MaxRetry(0),
		asynq.Timeout(timeout),
	), nil
}

// jobHandler runs one job per task. Failures are reported and archived;
// the next scheduled tick is the retry.
func jobHandler(runner jobRunner) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		ctx, span := otel.Tracer("rentcycle.workers").Start(ctx, "Process "+runner.Name(), trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()

		var payload jobPayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				logrus.Error(err)
				return fmt.Errorf("invalid payload for %s: %v: %w", runner.Name(), err, asynq.SkipRetry)
			}
		}

		summary, err := runner.Run(ctx, reminders.Options{DryRun: payload.DryRun})
		if err != nil {
			span.RecordError(err)
			notification.NotifyError(runner.Name(), err)
			return err
		}
		logrus.Infof(" [*] %s processed %d, sent %d", runner.Name(), summary.Processed, summary.Sent)
		return nil
	}
}

func (b *rentcycleInstance) cronSpecs() map[string]string {
	return map[string]string{
		reminders.ReturnJob:   b.cnf.Jobs.ReturnCron,
		reminders.ShippingJob: b.cnf.Jobs.ShippingCron,
		reminders.OverdueJob:  b.cnf.Jobs.OverdueCron,
	}
}

func initializeScheduler(b *rentcycleInstance, opt asynq.RedisClientOpt) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Location: b.app.Calendar().Location(),
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				logrus.WithError(err).Error("failed to enqueue scheduled job")
			}
		},
	})

	for job, spec := range b.cronSpecs() {
		task, err := newJobTask(job, jobPayload{}, b.cnf.Jobs.LockTTL())
		if err != nil {
			return nil, err
		}
		if _, err := scheduler.Register(spec, task); err != nil {
			return nil, fmt.Errorf("error registering %s on %q: %w", job, spec, err)
		}
		logrus.Infof("scheduled %s on %q", job, spec)
	}
	return scheduler, nil
}

func initializeTaskHandlers(b *rentcycleInstance, mux *asynq.ServeMux) error {
	for _, job := range b.app.Jobs() {
		runner, err := b.app.Runner(job)
		if err != nil {
			return err
		}
		mux.HandleFunc(jobTaskType(job), jobHandler(runner))
	}
	return nil
}

// workerCommands defines the "workers" command: a cron scheduler and a
// single-concurrency worker that run every job, plus monitoring endpoints.
func workerCommands(b *rentcycleInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "run all jobs on their cron schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			if b.app.Redis() == nil {
				return errors.New("redis.dns is required to run workers")
			}
			opt := b.app.Redis().AsynqOpt()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			scheduler, err := initializeScheduler(b, opt)
			if err != nil {
				return err
			}

			srv := asynq.NewServer(opt, asynq.Config{
				Concurrency: 1,
				Queues:      map[string]int{jobsQueue: 1},
			})
			mux := asynq.NewServeMux()
			if err := initializeTaskHandlers(b, mux); err != nil {
				return err
			}

			h := asynqmon.New(asynqmon.Options{
				RootPath:     "/monitoring",
				RedisConnOpt: opt,
			})
			go func() {
				monitoringAddr := fmt.Sprintf(":%s", b.cnf.Jobs.MonitoringPort)
				logrus.Infof("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					logrus.Errorf("could not start asynqmon server: %v", err)
				}
			}()
			go func() {
				if err := metrics.Serve(ctx, b.cnf.Metrics.Port); err != nil {
					logrus.Errorf("could not start metrics server: %v", err)
				}
			}()

			if err := scheduler.Start(); err != nil {
				return fmt.Errorf("could not start scheduler: %w", err)
			}
			defer scheduler.Shutdown()

			if err := srv.Start(mux); err != nil {
				return fmt.Errorf("could not run server: %w", err)
			}
			defer srv.Shutdown()

			<-ctx.Done()
			logrus.Info("workers stopping...")
			return nil
		},
	}

	return cmd
}
