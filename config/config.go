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

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT            = "5004"
	DEFAULT_MONITORING_PORT = "5005"
	DEFAULT_CONFIG_FILE     = "order-worker.json"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"ORDER_WORKER_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"ORDER_WORKER_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"ORDER_WORKER_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"ORDER_WORKER_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"ORDER_WORKER_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"ORDER_WORKER_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns             string `json:"dns" envconfig:"ORDER_WORKER_DATA_SOURCE_DNS"`
	MaxOpenConns    int    `json:"max_open_conns" envconfig:"ORDER_WORKER_DATA_SOURCE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" envconfig:"ORDER_WORKER_DATA_SOURCE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime_minutes" envconfig:"ORDER_WORKER_DATA_SOURCE_CONN_MAX_LIFETIME"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"ORDER_WORKER_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"ORDER_WORKER_REDIS_SKIP_TLS_VERIFY"`
}

type QueueConfig struct {
	OrderQueue       string `json:"order_queue" envconfig:"ORDER_WORKER_QUEUE_ORDER_QUEUE"`
	WebhookQueue     string `json:"webhook_queue" envconfig:"ORDER_WORKER_QUEUE_WEBHOOK_QUEUE"`
	NumberOfQueues   int    `json:"number_of_queues" envconfig:"ORDER_WORKER_QUEUE_NUMBER_OF_QUEUES"`
	Concurrency      int    `json:"concurrency" envconfig:"ORDER_WORKER_QUEUE_CONCURRENCY"`
	MaxRetryAttempts int    `json:"max_retry_attempts" envconfig:"ORDER_WORKER_QUEUE_MAX_RETRY_ATTEMPTS"`
	MonitoringPort   string `json:"monitoring_port" envconfig:"ORDER_WORKER_QUEUE_MONITORING_PORT"`
}

type LockConfig struct {
	TTLSeconds int `json:"ttl_seconds" envconfig:"ORDER_WORKER_LOCK_TTL_SECONDS"`
}

type RetryConfig struct {
	MaxAttempts          int `json:"max_attempts" envconfig:"ORDER_WORKER_RETRY_MAX_ATTEMPTS"`
	BackoffUnitMs        int `json:"backoff_unit_ms" envconfig:"ORDER_WORKER_RETRY_BACKOFF_UNIT_MS"`
	SweepIntervalSeconds int `json:"sweep_interval_seconds" envconfig:"ORDER_WORKER_RETRY_SWEEP_INTERVAL_SECONDS"`
	SweepMaxRetries      int `json:"sweep_max_retries" envconfig:"ORDER_WORKER_RETRY_SWEEP_MAX_RETRIES"`
	SweepBatchSize       int `json:"sweep_batch_size" envconfig:"ORDER_WORKER_RETRY_SWEEP_BATCH_SIZE"`
	PersistMaxAttempts   int `json:"persist_max_attempts" envconfig:"ORDER_WORKER_RETRY_PERSIST_MAX_ATTEMPTS"`
}

type LedgerConfig struct {
	TTLHours int `json:"ttl_hours" envconfig:"ORDER_WORKER_LEDGER_TTL_HOURS"`
}

type LookupConfig struct {
	CustomerURL     string `json:"customer_url" envconfig:"ORDER_WORKER_LOOKUP_CUSTOMER_URL"`
	ProductURL      string `json:"product_url" envconfig:"ORDER_WORKER_LOOKUP_PRODUCT_URL"`
	TimeoutSeconds  int    `json:"timeout_seconds" envconfig:"ORDER_WORKER_LOOKUP_TIMEOUT_SECONDS"`
	CacheTTLSeconds int    `json:"cache_ttl_seconds" envconfig:"ORDER_WORKER_LOOKUP_CACHE_TTL_SECONDS"`
	MaxConcurrency  int    `json:"max_concurrency" envconfig:"ORDER_WORKER_LOOKUP_MAX_CONCURRENCY"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"ORDER_WORKER_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"ORDER_WORKER_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"ORDER_WORKER_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"ORDER_WORKER_SLACK_WEBHOOK_URL"`
}

type WebhookConfig struct {
	Url     string            `json:"url" envconfig:"ORDER_WORKER_WEBHOOK_URL"`
	Headers map[string]string `json:"headers"`
}

type Notification struct {
	Slack   SlackWebhook  `json:"slack"`
	Webhook WebhookConfig `json:"webhook"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"ORDER_WORKER_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"ORDER_WORKER_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Queue           QueueConfig      `json:"queue"`
	Lock            LockConfig       `json:"lock"`
	Retry           RetryConfig      `json:"retry"`
	Ledger          LedgerConfig     `json:"ledger"`
	Lookup          LookupConfig     `json:"lookup"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
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
		if err := json.NewDecoder(f).Decode(&cnf); err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	if err := envconfig.Process("order_worker", &cnf); err != nil {
		return err
	}

	if err := cnf.validateAndAddDefaults(); err != nil {
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
		return nil, errors.New("config not loaded from file. Create a json file called order-worker.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "Order Worker"
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.Queue.applyDefaults()
	cnf.DataSource.applyDefaults()
	cnf.Retry.applyDefaults()
	setDefaultInt(&cnf.Lock.TTLSeconds, 30)
	setDefaultInt(&cnf.Ledger.TTLHours, 168)
	setDefaultInt(&cnf.Lookup.TimeoutSeconds, 5)
	if cnf.Lookup.CacheTTLSeconds < 0 {
		cnf.Lookup.CacheTTLSeconds = 0
	}
	if cnf.Lookup.MaxConcurrency < 0 {
		cnf.Lookup.MaxConcurrency = 0
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (q *QueueConfig) applyDefaults() {
	if q.OrderQueue == "" {
		q.OrderQueue = "new:order"
	}
	if q.WebhookQueue == "" {
		q.WebhookQueue = "order_webhooks"
	}
	if q.MonitoringPort == "" {
		q.MonitoringPort = DEFAULT_MONITORING_PORT
	}
	setDefaultInt(&q.NumberOfQueues, 4)
	setDefaultInt(&q.Concurrency, 10)
	setDefaultInt(&q.MaxRetryAttempts, 5)
}

func (d *DataSourceConfig) applyDefaults() {
	setDefaultInt(&d.MaxOpenConns, 25)
	setDefaultInt(&d.MaxIdleConns, 10)
	setDefaultInt(&d.ConnMaxLifetime, 30)
}

func (r *RetryConfig) applyDefaults() {
	setDefaultInt(&r.MaxAttempts, 5)
	setDefaultInt(&r.BackoffUnitMs, 1000)
	setDefaultInt(&r.SweepIntervalSeconds, 30)
	setDefaultInt(&r.SweepMaxRetries, 10)
	setDefaultInt(&r.SweepBatchSize, 100)
	setDefaultInt(&r.PersistMaxAttempts, 5)
}

func setDefaultInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

// BackoffUnit is the base delay of the exponential backoff.
func (r RetryConfig) BackoffUnit() time.Duration {
	return time.Duration(r.BackoffUnitMs) * time.Millisecond
}

// SweepInterval is how often the sweeper scans the ledger.
func (r RetryConfig) SweepInterval() time.Duration {
	return time.Duration(r.SweepIntervalSeconds) * time.Second
}

func (l LockConfig) TTL() time.Duration {
	return time.Duration(l.TTLSeconds) * time.Second
}

func (l LedgerConfig) TTL() time.Duration {
	return time.Duration(l.TTLHours) * time.Hour
}

func (l LookupConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// CacheTTL returns 0 when lookup caching is disabled.
func (l LookupConfig) CacheTTL() time.Duration {
	return time.Duration(l.CacheTTLSeconds) * time.Second
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
