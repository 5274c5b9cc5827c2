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

package rentcycle

import (
	"context"
	"embed"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/rentcycle/calendar"
	"github.com/jerry-enebeli/rentcycle/charges"
	"github.com/jerry-enebeli/rentcycle/config"
	"github.com/jerry-enebeli/rentcycle/database"
	"github.com/jerry-enebeli/rentcycle/internal/cache"
	redlock "github.com/jerry-enebeli/rentcycle/internal/lock"
	redis_db "github.com/jerry-enebeli/rentcycle/internal/redis-db"
	"github.com/jerry-enebeli/rentcycle/model"
	"github.com/jerry-enebeli/rentcycle/reminders"
	"github.com/jerry-enebeli/rentcycle/shortlink"
	"github.com/jerry-enebeli/rentcycle/sms"
	"github.com/jerry-enebeli/rentcycle/store"
	"github.com/jerry-enebeli/rentcycle/store/marketplace"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// Rentcycle holds the collaborators shared by every job.
type Rentcycle struct {
	cnf        *config.Configuration
	store      store.TransactionStore
	calendar   *calendar.Calendar
	dispatcher sms.Dispatcher
	shortener  shortlink.Shortener
	engine     *charges.Engine
	redis      *redis_db.Redis
	db         *database.Datasource
	runners    map[string]*reminders.Runner
}

// NewRentcycle builds every collaborator from the configuration.
//
// Parameters:
// - ctx: Bounds connection checks and holiday loading.
// - cnf: The loaded configuration.
//
// Returns:
// - *Rentcycle: The wired application.
// - error: An error if a configured backend is unreachable or a setting is invalid.
func NewRentcycle(ctx context.Context, cnf *config.Configuration) (*Rentcycle, error) {
	r := &Rentcycle{cnf: cnf, runners: make(map[string]*reminders.Runner)}

	if cnf.Redis.Dns != "" {
		rc, err := redis_db.NewRedisClient(ctx, cnf.Redis.Dns, cnf.Redis.SkipTLSVerify)
		if err != nil {
			return nil, fmt.Errorf("error connecting to redis: %w", err)
		}
		r.redis = rc
	}

	if cnf.Store.Mode == config.StoreModePostgres || cnf.Calendar.HolidaysFromDB {
		db, err := database.GetDBConnection(cnf)
		if err != nil {
			return nil, fmt.Errorf("error getting datasource: %w", err)
		}
		r.db = db
	}

	cal, err := r.newCalendar(ctx)
	if err != nil {
		return nil, err
	}
	r.calendar = cal

	httpClient := &http.Client{Timeout: cnf.Jobs.CallTimeout()}
	if cnf.Store.Mode == config.StoreModePostgres {
		r.store = r.db
	} else {
		r.store = marketplace.New(marketplace.Config{
			BaseURL:      cnf.Store.BaseURL,
			TokenURL:     cnf.Store.TokenURL,
			ClientID:     cnf.Store.ClientID,
			ClientSecret: cnf.Store.ClientSecret,
		}, httpClient)
	}

	r.dispatcher = newDispatcher(cnf.SMS, httpClient)
	r.shortener = r.newShortener(httpClient)

	policy, err := charges.PolicyFromConfig(cnf.Policy.ReplacementMode, cnf.Policy.ReplacementThresholdDays)
	if err != nil {
		return nil, err
	}
	r.engine = charges.NewEngine(r.store, r.calendar, charges.Config{
		LateFee: model.Money{Amount: cnf.Policy.LateFeeCents, Currency: cnf.Policy.Currency},
		Policy:  policy,
	})

	r.registerRunners()
	return r, nil
}

func (r *Rentcycle) newCalendar(ctx context.Context) (*calendar.Calendar, error) {
	loc, err := time.LoadLocation(r.cnf.Calendar.Timezone)
	if err != nil {
		return nil, err
	}
	weekday, err := config.ParseWeekday(r.cnf.Calendar.NonChargeableWeekday)
	if err != nil {
		return nil, err
	}

	var source calendar.HolidaySource = calendar.DefaultHolidays
	switch {
	case r.cnf.Calendar.HolidaysFile != "":
		source = calendar.FileSource{Path: r.cnf.Calendar.HolidaysFile}
	case r.cnf.Calendar.HolidaysFromDB:
		source = r.db
	}

	return calendar.New(ctx, source, calendar.WithLocation(loc), calendar.WithNonChargeableWeekday(weekday))
}

// newDispatcher falls back to the simulator when simulation is requested or
// Twilio credentials are incomplete.
func newDispatcher(cfg config.SMSConfig, client *http.Client) sms.Dispatcher {
	twilio := sms.NewTwilioClient(sms.TwilioConfig{
		AccountSID:     cfg.AccountSID,
		AuthToken:      cfg.AuthToken,
		From:           cfg.From,
		StatusCallback: cfg.StatusCallback,
		BaseURL:        cfg.BaseURL,
	}, client)
	if cfg.Simulate || !twilio.Available() {
		logrus.Warn("sms credentials missing or simulation enabled, messages will be simulated")
		return sms.NewSimulator()
	}
	return twilio
}

func (r *Rentcycle) newShortener(client *http.Client) shortlink.Shortener {
	if r.cnf.Shortener.Token == "" {
		return shortlink.Noop{}
	}
	var c cache.Cache
	if r.redis != nil {
		c = cache.NewRedisCache(r.redis.Client())
	}
	return shortlink.NewHTTPShortener(shortlink.Config{
		Endpoint: r.cnf.Shortener.Endpoint,
		Token:    r.cnf.Shortener.Token,
		Domain:   r.cnf.Shortener.Domain,
		CacheTTL: time.Duration(r.cnf.Shortener.CacheTTLHours) * time.Hour,
	}, client, c)
}

func (r *Rentcycle) registerRunners() {
	deps := reminders.Deps{
		Store:      r.store,
		Dispatcher: r.dispatcher,
		Calendar:   r.calendar,
	}
	if r.redis != nil {
		client := r.redis.Client()
		deps.NewLocker = func(job string) reminders.Locker {
			return redlock.NewLocker(client, redlock.JobKey(job), uuid.NewString())
		}
	}

	jobs := r.cnf.Jobs
	cfg := reminders.Config{
		PageSize:        jobs.PageSize,
		MaxPages:        jobs.MaxPages,
		CallTimeout:     jobs.CallTimeout(),
		LockTTL:         jobs.LockTTL(),
		CoverageHorizon: time.Duration(r.cnf.Calendar.CoverageHorizonDays) * 24 * time.Hour,
		StrictCoverage:  r.cnf.Calendar.Strict,
	}
	links := reminders.Links{AppBaseURL: jobs.AppBaseURL}

	for _, def := range []reminders.Definition{
		reminders.NewReturnReminders(r.shortener, links, r.engine.LateFee()),
		reminders.NewShippingReminders(r.shortener, links),
		reminders.NewOverdueReminders(r.shortener, links, r.engine),
	} {
		r.runners[def.Name()] = reminders.NewRunner(def, deps, cfg)
	}
}

// Runner returns the runner for a job name.
func (r *Rentcycle) Runner(job string) (*reminders.Runner, error) {
	runner, ok := r.runners[job]
	if !ok {
		return nil, fmt.Errorf("unknown job %q", job)
	}
	return runner, nil
}

// Jobs lists the registered job names.
func (r *Rentcycle) Jobs() []string {
	names := make([]string, 0, len(r.runners))
	for name := range r.runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Engine returns the charge engine, used directly by the charges command.
func (r *Rentcycle) Engine() *charges.Engine {
	return r.engine
}

func (r *Rentcycle) Calendar() *calendar.Calendar {
	return r.calendar
}

// Redis returns the shared redis connection, or nil when none is configured.
func (r *Rentcycle) Redis() *redis_db.Redis {
	return r.redis
}

// Close releases backend connections.
func (r *Rentcycle) Close() error {
	if r.redis != nil {
		if err := r.redis.Close(); err != nil {
			return err
		}
	}
	if r.db != nil {
		return r.db.Conn.Close()
	}
	return nil
}
