/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the settlement-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	ReplyExchange        string `mapstructure:"REPLY_EXCHANGE"`
	InternalAPIKey       string `mapstructure:"INTERNAL_API_KEY"`

	NimiqRPCURL             string `mapstructure:"NIMIQ_RPC_URL"`
	NimiqNetwork            string `mapstructure:"NIMIQ_NETWORK"`
	MempoolSoftCap          int    `mapstructure:"MEMPOOL_SOFT_CAP"`
	ConfirmationPollSeconds int    `mapstructure:"CONFIRMATION_POLL_SECONDS"`

	PollSchedule              string `mapstructure:"POLL_SCHEDULE"`
	PollerMaxItems            int    `mapstructure:"POLLER_MAX_ITEMS"`
	PendingRequeueAfterBlocks int64  `mapstructure:"PENDING_REQUEUE_AFTER_BLOCKS"`

	DustThresholdLuna        int64 `mapstructure:"DUST_THRESHOLD_LUNA"`
	CommandRateLimit         int   `mapstructure:"COMMAND_RATE_LIMIT"`
	CommandRateWindowSeconds int   `mapstructure:"COMMAND_RATE_WINDOW_SECONDS"`
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
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "tipbot:rate_limit")
	viper.SetDefault("REPLY_EXCHANGE", "tipbot.replies")
	viper.SetDefault("NIMIQ_RPC_URL", "http://localhost:8648")
	viper.SetDefault("NIMIQ_NETWORK", "test")
	viper.SetDefault("MEMPOOL_SOFT_CAP", 256)
	viper.SetDefault("CONFIRMATION_POLL_SECONDS", 10)
	viper.SetDefault("POLL_SCHEDULE", "@every 30s")
	viper.SetDefault("POLLER_MAX_ITEMS", 25)
	viper.SetDefault("PENDING_REQUEUE_AFTER_BLOCKS", 0)
	viper.SetDefault("DUST_THRESHOLD_LUNA", 0)
	viper.SetDefault("COMMAND_RATE_LIMIT", 10)
	viper.SetDefault("COMMAND_RATE_WINDOW_SECONDS", 60)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "SETTLEMENT_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REPLY_EXCHANGE")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "SETTLEMENT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("NIMIQ_RPC_URL")
	_ = viper.BindEnv("NIMIQ_NETWORK")
	_ = viper.BindEnv("MEMPOOL_SOFT_CAP")
	_ = viper.BindEnv("CONFIRMATION_POLL_SECONDS")
	_ = viper.BindEnv("POLL_SCHEDULE")
	_ = viper.BindEnv("POLLER_MAX_ITEMS")
	_ = viper.BindEnv("PENDING_REQUEUE_AFTER_BLOCKS")
	_ = viper.BindEnv("DUST_THRESHOLD_LUNA")
	_ = viper.BindEnv("COMMAND_RATE_LIMIT")
	_ = viper.BindEnv("COMMAND_RATE_WINDOW_SECONDS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
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
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("SETTLEMENT_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "tipbot:rate_limit"
	}

	if config.NimiqNetwork != "main" && config.NimiqNetwork != "test" {
		log.Printf("level=warn component=config msg=\"unknown network; falling back to test\" network=%q", config.NimiqNetwork)
		config.NimiqNetwork = "test"
	}
	if config.MempoolSoftCap <= 0 {
		config.MempoolSoftCap = 256
	}
	if config.ConfirmationPollSeconds <= 0 {
		config.ConfirmationPollSeconds = 10
	}
	if config.PollerMaxItems <= 0 {
		config.PollerMaxItems = 25
	}
	if config.PendingRequeueAfterBlocks < 0 {
		log.Printf("level=warn component=config msg=\"negative requeue cutoff configured; disabling sweep\" blocks=%d", config.PendingRequeueAfterBlocks)
		config.PendingRequeueAfterBlocks = 0
	}
	if config.DustThresholdLuna < 0 {
		log.Printf("level=warn component=config msg=\"negative dust threshold configured; coercing to zero\" dust_luna=%d", config.DustThresholdLuna)
		config.DustThresholdLuna = 0
	}
	if config.CommandRateLimit < 0 {
		config.CommandRateLimit = 0
	}
	if config.CommandRateWindowSeconds <= 0 {
		config.CommandRateWindowSeconds = 60
	}

	return
}
