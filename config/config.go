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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	StoreModeMarketplace = "marketplace"
	StoreModePostgres    = "postgres"

	DEFAULT_TIMEZONE      = "America/Los_Angeles"
	DEFAULT_WEEKDAY       = "sunday"
	DEFAULT_METRICS_PORT  = "9090"
	DEFAULT_LATE_FEE      = 1500
	DEFAULT_PAGE_SIZE     = 100
	DEFAULT_MAX_PAGES     = 50
	DEFAULT_CALL_TIMEOUT  = 20
	DEFAULT_INTERVAL      = 900
	DEFAULT_LOCK_TTL      = 600
	DEFAULT_HORIZON_DAYS  = 60
	DEFAULT_SHORTLINK_TTL = 720
	DEFAULT_MONITOR_PORT  = "5004"
)

var ConfigStore atomic.Value

type StoreConfig struct {
	Mode         string `json:"mode" envconfig:"RENTCYCLE_STORE_MODE"`
	BaseURL      string `json:"base_url" envconfig:"RENTCYCLE_STORE_BASE_URL"`
	TokenURL     string `json:"token_url" envconfig:"RENTCYCLE_STORE_TOKEN_URL"`
	ClientID     string `json:"client_id" envconfig:"RENTCYCLE_STORE_CLIENT_ID"`
	ClientSecret string `json:"client_secret" envconfig:"RENTCYCLE_STORE_CLIENT_SECRET"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"RENTCYCLE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"RENTCYCLE_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"RENTCYCLE_REDIS_SKIP_TLS_VERIFY"`
}

type SMSConfig struct {
	AccountSID     string `json:"account_sid" envconfig:"RENTCYCLE_SMS_ACCOUNT_SID"`
	AuthToken      string `json:"auth_token" envconfig:"RENTCYCLE_SMS_AUTH_TOKEN"`
	From           string `json:"from" envconfig:"RENTCYCLE_SMS_FROM"`
	StatusCallback string `json:"status_callback" envconfig:"RENTCYCLE_SMS_STATUS_CALLBACK"`
	BaseURL        string `json:"base_url" envconfig:"RENTCYCLE_SMS_BASE_URL"`
	Simulate       bool   `json:"simulate" envconfig:"RENTCYCLE_SMS_SIMULATE"`
}

type ShortenerConfig struct {
	Endpoint      string `json:"endpoint" envconfig:"RENTCYCLE_SHORTENER_ENDPOINT"`
	Token         string `json:"token" envconfig:"RENTCYCLE_SHORTENER_TOKEN"`
	Domain        string `json:"domain" envconfig:"RENTCYCLE_SHORTENER_DOMAIN"`
	CacheTTLHours int    `json:"cache_ttl_hours" envconfig:"RENTCYCLE_SHORTENER_CACHE_TTL_HOURS"`
}

type PolicyConfig struct {
	LateFeeCents             int64  `json:"late_fee_cents" envconfig:"RENTCYCLE_POLICY_LATE_FEE_CENTS"`
	Currency                 string `json:"currency" envconfig:"RENTCYCLE_POLICY_CURRENCY"`
	ReplacementMode          string `json:"replacement_mode" envconfig:"RENTCYCLE_POLICY_REPLACEMENT_MODE"`
	ReplacementThresholdDays int    `json:"replacement_threshold_days" envconfig:"RENTCYCLE_POLICY_REPLACEMENT_THRESHOLD_DAYS"`
}

type CalendarConfig struct {
	Timezone             string `json:"timezone" envconfig:"RENTCYCLE_CALENDAR_TIMEZONE"`
	NonChargeableWeekday string `json:"non_chargeable_weekday" envconfig:"RENTCYCLE_CALENDAR_NON_CHARGEABLE_WEEKDAY"`
	HolidaysFile         string `json:"holidays_file" envconfig:"RENTCYCLE_CALENDAR_HOLIDAYS_FILE"`
	HolidaysFromDB       bool   `json:"holidays_from_db" envconfig:"RENTCYCLE_CALENDAR_HOLIDAYS_FROM_DB"`
	CoverageHorizonDays  int    `json:"coverage_horizon_days" envconfig:"RENTCYCLE_CALENDAR_COVERAGE_HORIZON_DAYS"`
	Strict               bool   `json:"strict" envconfig:"RENTCYCLE_CALENDAR_STRICT"`
}

type JobsConfig struct {
	PageSize       int    `json:"page_size" envconfig:"RENTCYCLE_JOBS_PAGE_SIZE"`
	MaxPages       int    `json:"max_pages" envconfig:"RENTCYCLE_JOBS_MAX_PAGES"`
	CallTimeoutSec int    `json:"call_timeout_sec" envconfig:"RENTCYCLE_JOBS_CALL_TIMEOUT_SEC"`
	IntervalSec    int    `json:"interval_sec" envconfig:"RENTCYCLE_JOBS_INTERVAL_SEC"`
	LockTTLSec     int    `json:"lock_ttl_sec" envconfig:"RENTCYCLE_JOBS_LOCK_TTL_SEC"`
	AppBaseURL     string `json:"app_base_url" envconfig:"RENTCYCLE_JOBS_APP_BASE_URL"`
	ReturnCron     string `json:"return_cron" envconfig:"RENTCYCLE_JOBS_RETURN_CRON"`
	ShippingCron   string `json:"shipping_cron" envconfig:"RENTCYCLE_JOBS_SHIPPING_CRON"`
	OverdueCron    string `json:"overdue_cron" envconfig:"RENTCYCLE_JOBS_OVERDUE_CRON"`
	MonitoringPort string `json:"monitoring_port" envconfig:"RENTCYCLE_JOBS_MONITORING_PORT"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"RENTCYCLE_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type TelemetryConfig struct {
	Enabled  bool   `json:"enabled" envconfig:"RENTCYCLE_TELEMETRY_ENABLED"`
	Endpoint string `json:"endpoint" envconfig:"RENTCYCLE_TELEMETRY_ENDPOINT"`
}

type MetricsConfig struct {
	Port string `json:"port" envconfig:"RENTCYCLE_METRICS_PORT"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"RENTCYCLE_PROJECT_NAME"`
	Store        StoreConfig      `json:"store"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	SMS          SMSConfig        `json:"sms"`
	Shortener    ShortenerConfig  `json:"shortener"`
	Policy       PolicyConfig     `json:"policy"`
	Calendar     CalendarConfig   `json:"calendar"`
	Jobs         JobsConfig       `json:"jobs"`
	Notification Notification     `json:"notification"`
	Telemetry    TelemetryConfig  `json:"telemetry"`
	Metrics      MetricsConfig    `json:"metrics"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("rentcycle", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return nil
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called rentcycle.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "rentcycle"
	}

	cnf.Store.Mode = strings.ToLower(strings.TrimSpace(cnf.Store.Mode))
	if cnf.Store.Mode == "" {
		cnf.Store.Mode = StoreModeMarketplace
	}
	cnf.Store.BaseURL = strings.TrimRight(strings.TrimSpace(cnf.Store.BaseURL), "/")
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Policy.LateFeeCents == 0 {
		cnf.Policy.LateFeeCents = DEFAULT_LATE_FEE
		log.Printf("Warning: late fee not specified. Setting default: %d", DEFAULT_LATE_FEE)
	}
	if cnf.Policy.Currency == "" {
		cnf.Policy.Currency = "USD"
	}
	if cnf.Policy.ReplacementMode == "" {
		cnf.Policy.ReplacementMode = "manual"
	}

	if cnf.Calendar.Timezone == "" {
		cnf.Calendar.Timezone = DEFAULT_TIMEZONE
	}
	if cnf.Calendar.NonChargeableWeekday == "" {
		cnf.Calendar.NonChargeableWeekday = DEFAULT_WEEKDAY
	}
	if cnf.Calendar.CoverageHorizonDays == 0 {
		cnf.Calendar.CoverageHorizonDays = DEFAULT_HORIZON_DAYS
	}

	if cnf.Jobs.PageSize == 0 {
		cnf.Jobs.PageSize = DEFAULT_PAGE_SIZE
	}
	if cnf.Jobs.MaxPages == 0 {
		cnf.Jobs.MaxPages = DEFAULT_MAX_PAGES
	}
	if cnf.Jobs.CallTimeoutSec == 0 {
		cnf.Jobs.CallTimeoutSec = DEFAULT_CALL_TIMEOUT
	}
	if cnf.Jobs.IntervalSec == 0 {
		cnf.Jobs.IntervalSec = DEFAULT_INTERVAL
	}
	if cnf.Jobs.LockTTLSec == 0 {
		cnf.Jobs.LockTTLSec = DEFAULT_LOCK_TTL
	}
	if cnf.Jobs.ReturnCron == "" {
		cnf.Jobs.ReturnCron = "0 9 * * *"
	}
	if cnf.Jobs.ShippingCron == "" {
		cnf.Jobs.ShippingCron = "0 * * * *"
	}
	if cnf.Jobs.OverdueCron == "" {
		cnf.Jobs.OverdueCron = "30 10 * * *"
	}

	if cnf.Jobs.MonitoringPort == "" {
		cnf.Jobs.MonitoringPort = DEFAULT_MONITOR_PORT
	}

	if cnf.Shortener.CacheTTLHours == 0 {
		cnf.Shortener.CacheTTLHours = DEFAULT_SHORTLINK_TTL
	}
	if cnf.Metrics.Port == "" {
		cnf.Metrics.Port = DEFAULT_METRICS_PORT
	}

	return cnf.validate()
}

func (cnf *Configuration) validate() error {
	if cnf.Store.Mode == StoreModePostgres && cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field in postgres mode.")
		return errors.New("data source DNS is required in postgres mode")
	}

	err := validation.ValidateStruct(cnf,
		validation.Field(&cnf.Store),
		validation.Field(&cnf.Policy),
		validation.Field(&cnf.Calendar),
		validation.Field(&cnf.Jobs),
	)
	if err != nil {
		log.Printf("Error: invalid configuration: %v", err)
	}
	return err
}

func (s StoreConfig) Validate() error {
	marketplace := s.Mode == StoreModeMarketplace
	return validation.ValidateStruct(&s,
		validation.Field(&s.Mode, validation.Required, validation.In(StoreModeMarketplace, StoreModePostgres)),
		validation.Field(&s.BaseURL, validation.When(marketplace, validation.Required, is.URL)),
		validation.Field(&s.ClientID, validation.When(marketplace, validation.Required)),
		validation.Field(&s.ClientSecret, validation.When(marketplace, validation.Required)),
	)
}

func (p PolicyConfig) Validate() error {
	auto := strings.EqualFold(p.ReplacementMode, "automatic") || strings.EqualFold(p.ReplacementMode, "auto")
	return validation.ValidateStruct(&p,
		validation.Field(&p.LateFeeCents, validation.Min(int64(1))),
		validation.Field(&p.Currency, validation.Length(3, 3)),
		validation.Field(&p.ReplacementMode, validation.In("manual", "automatic", "auto")),
		validation.Field(&p.ReplacementThresholdDays, validation.When(auto, validation.Required, validation.Min(1))),
	)
}

func (c CalendarConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Timezone, validation.By(func(value interface{}) error {
			_, err := time.LoadLocation(value.(string))
			return err
		})),
		validation.Field(&c.NonChargeableWeekday, validation.By(func(value interface{}) error {
			_, err := ParseWeekday(value.(string))
			return err
		})),
	)
}

func (j JobsConfig) Validate() error {
	return validation.ValidateStruct(&j,
		validation.Field(&j.PageSize, validation.Min(1), validation.Max(100)),
		validation.Field(&j.MaxPages, validation.Min(1)),
		validation.Field(&j.CallTimeoutSec, validation.Min(1)),
		validation.Field(&j.AppBaseURL, is.URL),
	)
}

// ParseWeekday parses an English weekday name.
func ParseWeekday(name string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), strings.TrimSpace(name)) {
			return d, nil
		}
	}
	return 0, errors.New("unknown weekday " + name)
}

// CallTimeout returns the per-call timeout as a duration.
func (j JobsConfig) CallTimeout() time.Duration {
	return time.Duration(j.CallTimeoutSec) * time.Second
}

func (j JobsConfig) Interval() time.Duration {
	return time.Duration(j.IntervalSec) * time.Second
}

func (j JobsConfig) LockTTL() time.Duration {
	return time.Duration(j.LockTTLSec) * time.Second
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
