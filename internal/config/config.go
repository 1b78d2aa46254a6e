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

// Config holds all the configuration variables for the payout-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`

	AdyenAPIKey            string `mapstructure:"ADYEN_API_KEY"`
	AdyenMerchantAccount   string `mapstructure:"ADYEN_MERCHANT_ACCOUNT"`
	AdyenEnvironment       string `mapstructure:"ADYEN_ENVIRONMENT"`
	AdyenHMACKey           string `mapstructure:"ADYEN_HMAC_KEY"`
	AdyenBalanceAccountID  string `mapstructure:"ADYEN_BALANCE_ACCOUNT_ID"`
	AdyenUseBalanceAccount bool   `mapstructure:"ADYEN_USE_BALANCE_PLATFORM"`

	// AvailablePayoutBudget is a static ceiling in major currency units.
	// Empty means unlimited when the balance platform is not consulted.
	AvailablePayoutBudget string `mapstructure:"AVAILABLE_PAYOUT_BUDGET"`

	JWTSecret string `mapstructure:"JWT_SECRET"`

	ReconcileSchedule     string `mapstructure:"RECONCILE_SCHEDULE"`
	ReconcileStaleMinutes int    `mapstructure:"RECONCILE_STALE_MINUTES"`
	ReconcileGiveUpHours  int    `mapstructure:"RECONCILE_GIVE_UP_HOURS"`

	WebhookRateLimitPerMinute int `mapstructure:"WEBHOOK_RATE_LIMIT_PER_MINUTE"`
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
	viper.SetDefault("ADYEN_ENVIRONMENT", "test")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "paydesk:rate_limit")
	viper.SetDefault("RECONCILE_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("RECONCILE_STALE_MINUTES", 15)
	viper.SetDefault("RECONCILE_GIVE_UP_HOURS", 24)
	viper.SetDefault("WEBHOOK_RATE_LIMIT_PER_MINUTE", 120)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("ADYEN_API_KEY")
	_ = viper.BindEnv("ADYEN_MERCHANT_ACCOUNT")
	_ = viper.BindEnv("ADYEN_ENVIRONMENT")
	_ = viper.BindEnv("ADYEN_HMAC_KEY")
	_ = viper.BindEnv("ADYEN_BALANCE_ACCOUNT_ID")
	_ = viper.BindEnv("ADYEN_USE_BALANCE_PLATFORM")
	_ = viper.BindEnv("AVAILABLE_PAYOUT_BUDGET")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")
	_ = viper.BindEnv("RECONCILE_STALE_MINUTES")
	_ = viper.BindEnv("RECONCILE_GIVE_UP_HOURS")
	_ = viper.BindEnv("WEBHOOK_RATE_LIMIT_PER_MINUTE")

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

	// Platform runtimes commonly inject PORT rather than SERVER_PORT.
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "paydesk:rate_limit"
	}
	config.AdyenEnvironment = strings.ToLower(strings.TrimSpace(config.AdyenEnvironment))
	if config.AdyenEnvironment != "live" {
		config.AdyenEnvironment = "test"
	}
	config.AvailablePayoutBudget = strings.TrimSpace(config.AvailablePayoutBudget)

	if config.JWTSecret == "" {
		config.JWTSecret = "dev_secret_change_me"
		log.Printf("level=warn component=config msg=\"JWT_SECRET not set; using development default\"")
	}

	if config.ReconcileStaleMinutes <= 0 {
		config.ReconcileStaleMinutes = 15
	}
	if config.ReconcileGiveUpHours <= 0 {
		config.ReconcileGiveUpHours = 24
	}
	if config.WebhookRateLimitPerMinute < 0 {
		config.WebhookRateLimitPerMinute = 0
	}

	return
}
