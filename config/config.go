/*
Copyright 2025 CrossCheck Finance Authors.

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

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5600"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"CROSSCHECK_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"CROSSCHECK_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"CROSSCHECK_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"CROSSCHECK_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"CROSSCHECK_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"CROSSCHECK_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"CROSSCHECK_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"CROSSCHECK_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"CROSSCHECK_REDIS_SKIP_TLS_VERIFY"`
}

type TypeSenseConfig struct {
	Dns string `json:"dns" envconfig:"CROSSCHECK_TYPESENSE_DNS"`
}

// QueueConfig names the asynq queues the workers consume. The matching queue
// is sharded: sessions are hash-distributed across NumberOfQueues numbered
// queues so independent sessions can be drained in parallel.
type QueueConfig struct {
	FileProcessingQueue string `json:"file_processing_queue" envconfig:"CROSSCHECK_QUEUE_FILE_PROCESSING"`
	MatchingQueue       string `json:"matching_queue" envconfig:"CROSSCHECK_QUEUE_MATCHING"`
	WebhookQueue        string `json:"webhook_queue" envconfig:"CROSSCHECK_QUEUE_WEBHOOK"`
	IndexQueue          string `json:"index_queue" envconfig:"CROSSCHECK_QUEUE_INDEX"`
	NumberOfQueues      int    `json:"number_of_queues" envconfig:"CROSSCHECK_QUEUE_NUMBER_OF_QUEUES"`
	MaxRetryAttempts    int    `json:"max_retry_attempts" envconfig:"CROSSCHECK_QUEUE_MAX_RETRY_ATTEMPTS"`
	MonitoringPort      string `json:"monitoring_port" envconfig:"CROSSCHECK_QUEUE_MONITORING_PORT"`
}

// ReconciliationConfig carries the tunables of the reconciliation pipeline.
// The tolerance values are defaults for sessions that do not set their own;
// a session may still explicitly ask for zero tolerance.
type ReconciliationConfig struct {
	DefaultDateToleranceDays int     `json:"default_date_tolerance_days" envconfig:"CROSSCHECK_RECONCILIATION_DATE_TOLERANCE_DAYS"`
	DefaultAmountTolerance   float64 `json:"default_amount_tolerance" envconfig:"CROSSCHECK_RECONCILIATION_AMOUNT_TOLERANCE"`
	UploadDir                string  `json:"upload_dir" envconfig:"CROSSCHECK_RECONCILIATION_UPLOAD_DIR"`
	MaxFileSizeMB            int64   `json:"max_file_size_mb" envconfig:"CROSSCHECK_RECONCILIATION_MAX_FILE_SIZE_MB"`
	InsertBatchSize          int     `json:"insert_batch_size" envconfig:"CROSSCHECK_RECONCILIATION_INSERT_BATCH_SIZE"`
	StuckSessionThresholdMin int     `json:"stuck_session_threshold_min" envconfig:"CROSSCHECK_RECONCILIATION_STUCK_THRESHOLD_MIN"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"CROSSCHECK_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"CROSSCHECK_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"CROSSCHECK_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName        string               `json:"project_name" envconfig:"CROSSCHECK_PROJECT_NAME"`
	ExportDir          string               `json:"export_dir" envconfig:"CROSSCHECK_EXPORT_DIR"`
	AwsAccessKeyId     string               `json:"aws_access_key_id"`
	S3Endpoint         string               `json:"s3_endpoint"`
	AwsSecretAccessKey string               `json:"aws_secret_access_key"`
	S3BucketName       string               `json:"s3_bucket_name"`
	S3Region           string               `json:"s3_region"`
	EnableTelemetry    bool                 `json:"enable_telemetry" envconfig:"CROSSCHECK_ENABLE_TELEMETRY"`
	Server             ServerConfig         `json:"server"`
	DataSource         DataSourceConfig     `json:"data_source"`
	Redis              RedisConfig          `json:"redis"`
	TypeSense          TypeSenseConfig      `json:"typesense"`
	TypeSenseKey       string               `json:"type_sense_key"`
	Queue              QueueConfig          `json:"queue"`
	Reconciliation     ReconciliationConfig `json:"reconciliation"`
	Notification       Notification         `json:"notification"`
	RateLimit          RateLimitConfig      `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("crosscheck", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called crosscheck.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "CrossCheck Server"
	}

	if cnf.TypeSense.Dns == "" {
		cnf.TypeSense.Dns = "http://typesense:8108"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Queue.FileProcessingQueue == "" {
		cnf.Queue.FileProcessingQueue = "crosscheck:file_processing"
	}
	if cnf.Queue.MatchingQueue == "" {
		cnf.Queue.MatchingQueue = "crosscheck:matching"
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "crosscheck:webhook"
	}
	if cnf.Queue.IndexQueue == "" {
		cnf.Queue.IndexQueue = "crosscheck:index"
	}
	if cnf.Queue.NumberOfQueues <= 0 {
		cnf.Queue.NumberOfQueues = 1
	}
	if cnf.Queue.MaxRetryAttempts <= 0 {
		cnf.Queue.MaxRetryAttempts = 3
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5610"
	}

	if cnf.Reconciliation.DefaultDateToleranceDays <= 0 {
		cnf.Reconciliation.DefaultDateToleranceDays = 3
	}
	if cnf.Reconciliation.DefaultAmountTolerance <= 0 {
		cnf.Reconciliation.DefaultAmountTolerance = 0.01
	}
	if cnf.Reconciliation.UploadDir == "" {
		cnf.Reconciliation.UploadDir = "uploads"
	}
	if cnf.Reconciliation.MaxFileSizeMB <= 0 {
		cnf.Reconciliation.MaxFileSizeMB = 50
	}
	if cnf.Reconciliation.InsertBatchSize <= 0 {
		cnf.Reconciliation.InsertBatchSize = 1000
	}
	if cnf.Reconciliation.StuckSessionThresholdMin <= 0 {
		cnf.Reconciliation.StuckSessionThresholdMin = 30
	}

	if cnf.ExportDir == "" {
		cnf.ExportDir = "exports"
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

	// Set default cleanup interval if not specified
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
		log.Printf("Warning: Rate limit cleanup interval not specified. Setting default value: %d seconds", defaultCleanup)
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
