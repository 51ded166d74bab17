/**
 * @description
 * This package handles the configuration management for the backing service. It
 * uses the Viper library to read configuration from environment variables (and an
 * optional .env file), providing a centralized way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 * - github.com/google/uuid: Generates a per-process instance id when none is configured.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const (
	defaultServerPort             = "8080"
	defaultLedgerExchange         = "backing.ledger"
	defaultRateLimitPrefix        = "backing:rate_limit"
	defaultAgentTimeoutSeconds    = 30
	defaultSettlementDecimals     = 6
	defaultSettlementCurrency     = "USDC"
	defaultRateLimitBackoffSecs   = 5
	defaultHeartbeatSeconds       = 30
	defaultPaymentRatePerMinute   = 30
	defaultMaxBatchSize           = 25
	defaultPruneSchedule          = "@every 5m"
	maxSupportedSettlementDecimal = 18
)

// Config holds all the configuration variables for the backing service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	RedisURL                  string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix      string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL               string `mapstructure:"RABBITMQ_URL"`
	LedgerExchange            string `mapstructure:"LEDGER_EXCHANGE"`
	InstanceID                string `mapstructure:"INSTANCE_ID"`
	AgentMCPURL               string `mapstructure:"AGENT_MCP_URL"`
	AgentTimeoutSeconds       int    `mapstructure:"AGENT_TIMEOUT_SECONDS"`
	SettlementDecimals        int    `mapstructure:"SETTLEMENT_DECIMALS"`
	SettlementCurrency        string `mapstructure:"SETTLEMENT_CURRENCY"`
	RateLimitBackoffSeconds   int    `mapstructure:"RATE_LIMIT_BACKOFF_SECONDS"`
	PaywallBaseURL            string `mapstructure:"PAYWALL_BASE_URL"`
	HeartbeatSeconds          int    `mapstructure:"HEARTBEAT_SECONDS"`
	PaymentRateLimitPerMinute int    `mapstructure:"PAYMENT_RATE_LIMIT_PER_MINUTE"`
	MaxBatchSize              int    `mapstructure:"MAX_BATCH_SIZE"`
	ClerkJWKSURL              string `mapstructure:"CLERK_JWKS_URL"`
	InternalAPIKey            string `mapstructure:"INTERNAL_API_KEY"`
	ScoringServiceURL         string `mapstructure:"SCORING_SERVICE_URL"`
	LogFile                   string `mapstructure:"LOG_FILE"`
	RateLimitPruneSchedule    string `mapstructure:"RATE_LIMIT_PRUNE_SCHEDULE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", defaultServerPort)
	viper.SetDefault("LEDGER_EXCHANGE", defaultLedgerExchange)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("AGENT_TIMEOUT_SECONDS", defaultAgentTimeoutSeconds)
	viper.SetDefault("SETTLEMENT_DECIMALS", defaultSettlementDecimals)
	viper.SetDefault("SETTLEMENT_CURRENCY", defaultSettlementCurrency)
	viper.SetDefault("RATE_LIMIT_BACKOFF_SECONDS", defaultRateLimitBackoffSecs)
	viper.SetDefault("HEARTBEAT_SECONDS", defaultHeartbeatSeconds)
	viper.SetDefault("PAYMENT_RATE_LIMIT_PER_MINUTE", defaultPaymentRatePerMinute)
	viper.SetDefault("MAX_BATCH_SIZE", defaultMaxBatchSize)
	viper.SetDefault("RATE_LIMIT_PRUNE_SCHEDULE", defaultPruneSchedule)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "BACKING_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("LEDGER_EXCHANGE")
	_ = viper.BindEnv("INSTANCE_ID")
	_ = viper.BindEnv("AGENT_MCP_URL")
	_ = viper.BindEnv("AGENT_TIMEOUT_SECONDS")
	_ = viper.BindEnv("SETTLEMENT_DECIMALS")
	_ = viper.BindEnv("SETTLEMENT_CURRENCY")
	_ = viper.BindEnv("RATE_LIMIT_BACKOFF_SECONDS")
	_ = viper.BindEnv("PAYWALL_BASE_URL")
	_ = viper.BindEnv("HEARTBEAT_SECONDS")
	_ = viper.BindEnv("PAYMENT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("MAX_BATCH_SIZE")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "BACKING_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("SCORING_SERVICE_URL")
	_ = viper.BindEnv("LOG_FILE")
	_ = viper.BindEnv("RATE_LIMIT_PRUNE_SCHEDULE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("BACKING_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	config.AgentMCPURL = strings.TrimRight(strings.TrimSpace(config.AgentMCPURL), "/")
	config.PaywallBaseURL = strings.TrimRight(strings.TrimSpace(config.PaywallBaseURL), "/")
	config.SettlementCurrency = strings.ToUpper(strings.TrimSpace(config.SettlementCurrency))
	if config.SettlementCurrency == "" {
		config.SettlementCurrency = defaultSettlementCurrency
	}
	if strings.TrimSpace(config.LedgerExchange) == "" {
		config.LedgerExchange = defaultLedgerExchange
	}
	if strings.TrimSpace(config.InstanceID) == "" {
		config.InstanceID = uuid.NewString()
	}

	if config.AgentTimeoutSeconds <= 0 {
		log.Printf("level=warn component=config msg=\"invalid agent timeout; using default\" value=%d default=%d", config.AgentTimeoutSeconds, defaultAgentTimeoutSeconds)
		config.AgentTimeoutSeconds = defaultAgentTimeoutSeconds
	}
	if config.SettlementDecimals < 0 || config.SettlementDecimals > maxSupportedSettlementDecimal {
		log.Printf("level=warn component=config msg=\"invalid settlement decimals; using default\" value=%d default=%d", config.SettlementDecimals, defaultSettlementDecimals)
		config.SettlementDecimals = defaultSettlementDecimals
	}
	if config.RateLimitBackoffSeconds < 0 {
		log.Printf("level=warn component=config msg=\"negative rate-limit backoff configured; using default\" value=%d", config.RateLimitBackoffSeconds)
		config.RateLimitBackoffSeconds = defaultRateLimitBackoffSecs
	}
	if config.HeartbeatSeconds <= 0 {
		config.HeartbeatSeconds = defaultHeartbeatSeconds
	}
	if config.PaymentRateLimitPerMinute <= 0 {
		config.PaymentRateLimitPerMinute = defaultPaymentRatePerMinute
	}
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = defaultMaxBatchSize
	}
	config.RateLimitPruneSchedule = strings.TrimSpace(config.RateLimitPruneSchedule)
	if config.RateLimitPruneSchedule == "" {
		config.RateLimitPruneSchedule = defaultPruneSchedule
	}

	return
}
