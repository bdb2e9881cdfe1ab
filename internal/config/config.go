package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config represents the entire application configuration
type Config struct {
	Env          string                       `json:"env"`
	Port         int                          `json:"port"`
	AppName      string                       `json:"app_name"`
	Logging      LoggingConfig                `json:"logging"`
	MongoDB      MongoDBConfig                `json:"mongodb"`
	Redis        RedisConfig                  `json:"redis"`
	RabbitMQ     RabbitMQConfig               `json:"rabbitmq"`
	Jobs         JobsConfig                   `json:"jobs"`
	Marketplaces map[string]MarketplaceConfig `json:"marketplaces"`
	Feed         FeedConfig                   `json:"feed"`
	CORS         CORSConfig                   `json:"cors"`
}

// LoggingConfig controls log level and output format
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// MongoDBConfig contains MongoDB connection details
type MongoDBConfig struct {
	URI      string `json:"uri"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       string `json:"db"`
}

type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// RabbitMQConfig contains connection and topology settings for the job queue
type RabbitMQConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	VHost         string `json:"vhost"`
	ExchangeName  string `json:"exchange_name"`
	QueueName     string `json:"queue_name"`
	RoutingKey    string `json:"routing_key"`
	PrefetchCount int    `json:"prefetch_count"`
}

// JobsConfig controls orchestration behavior shared by every worker process
type JobsConfig struct {
	// MaxConcurrent is the global ceiling on jobs in running status,
	// enforced against the shared store rather than a local counter.
	MaxConcurrent int `json:"max_concurrent"`
	// WorkerCount is the number of jobs one process executes in parallel.
	WorkerCount int `json:"worker_count"`
	// CeilingBackoffSeconds is the base delay before a claimed job re-checks
	// the ceiling; actual delay is jittered.
	CeilingBackoffSeconds int `json:"ceiling_backoff_seconds"`
	// QuotaRetryAttempts and QuotaRetryDelaySeconds govern retries of
	// batches rejected for quota exhaustion.
	QuotaRetryAttempts     int `json:"quota_retry_attempts"`
	QuotaRetryDelaySeconds int `json:"quota_retry_delay_seconds"`
	// PausePollSeconds is how often a paused job body re-checks its flags.
	PausePollSeconds int `json:"pause_poll_seconds"`
	// MaxFailureReasons caps how many per-item failure reasons are kept in
	// a job result.
	MaxFailureReasons int `json:"max_failure_reasons"`
}

// MarketplaceConfig holds per-marketplace credentials, quota and sync policy
type MarketplaceConfig struct {
	BaseURL   string `json:"base_url"`
	SellerID  string `json:"seller_id"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	// RateLimit is the observed request allowance for this marketplace.
	RateLimit RateLimitConfig `json:"rate_limit"`
	// CreateBatchSize and UpdateBatchSize cap single API call sizes.
	CreateBatchSize int `json:"create_batch_size"`
	UpdateBatchSize int `json:"update_batch_size"`
	// MarkupPercent is applied to the catalog base price by the default
	// pricing rule.
	MarkupPercent float64 `json:"markup_percent"`
	// TreatZeroStockAsOne sends quantity 1 for catalog items with zero stock.
	TreatZeroStockAsOne bool `json:"treat_zero_stock_as_one"`
}

// RateLimitConfig is a fixed window allowance: Capacity calls per PeriodSeconds
type RateLimitConfig struct {
	Capacity      int `json:"capacity"`
	PeriodSeconds int `json:"period_seconds"`
}

// FeedConfig points at the S3 location of catalog feed snapshots and reports
type FeedConfig struct {
	AccessKey    string `json:"access_key"`
	SecretKey    string `json:"secret_key"`
	Bucket       string `json:"bucket"`
	Region       string `json:"region"`
	FeedPrefix   string `json:"feed_prefix"`
	ReportPrefix string `json:"report_prefix"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age,omitempty"`
}

// LoadConfig reads configuration from the specified file path
func LoadConfig(filePath string) (*Config, error) {
	configData, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(configData, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Jobs.MaxConcurrent <= 0 {
		c.Jobs.MaxConcurrent = 10
	}
	if c.Jobs.WorkerCount <= 0 {
		c.Jobs.WorkerCount = 4
	}
	if c.Jobs.CeilingBackoffSeconds <= 0 {
		c.Jobs.CeilingBackoffSeconds = 3
	}
	if c.Jobs.QuotaRetryAttempts <= 0 {
		c.Jobs.QuotaRetryAttempts = 3
	}
	if c.Jobs.QuotaRetryDelaySeconds <= 0 {
		c.Jobs.QuotaRetryDelaySeconds = 300
	}
	if c.Jobs.PausePollSeconds <= 0 {
		c.Jobs.PausePollSeconds = 2
	}
	if c.Jobs.MaxFailureReasons <= 0 {
		c.Jobs.MaxFailureReasons = 25
	}

	// The broker must hand a process as many unacked messages as it has
	// workers, or the pool starves.
	if c.RabbitMQ.PrefetchCount <= 0 {
		c.RabbitMQ.PrefetchCount = c.Jobs.WorkerCount
	}

	// An empty origin list would make the CORS middleware reject its own
	// configuration at startup.
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if len(c.CORS.AllowedMethods) == 0 {
		c.CORS.AllowedMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	}
	if len(c.CORS.AllowedHeaders) == 0 {
		c.CORS.AllowedHeaders = []string{"Origin", "Content-Length", "Content-Type", "X-Owner-ID"}
	}

	for tag, mp := range c.Marketplaces {
		if mp.CreateBatchSize <= 0 {
			mp.CreateBatchSize = 50
		}
		if mp.UpdateBatchSize <= 0 {
			mp.UpdateBatchSize = 100
		}
		if mp.RateLimit.Capacity <= 0 {
			mp.RateLimit.Capacity = 20
		}
		if mp.RateLimit.PeriodSeconds <= 0 {
			mp.RateLimit.PeriodSeconds = 10
		}
		c.Marketplaces[tag] = mp
	}
}
