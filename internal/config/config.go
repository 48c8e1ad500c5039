/**
 * @description
 * This file handles configuration management for the payment service.
 * It loads settings from environment variables, providing defaults for the
 * gateway endpoints, the PayFast IP allow-list, and cron schedules.
 */
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the payment service.
type Config struct {
	Port        string `mapstructure:"PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`

	PayFastPassphrase  string `mapstructure:"PAYFAST_PASSPHRASE"`
	PayFastValidateURL string `mapstructure:"PAYFAST_VALIDATE_URL"`
	PayFastAllowedIPs  string `mapstructure:"PAYFAST_ALLOWED_IPS"`

	PaystackSecretKey string `mapstructure:"PAYSTACK_SECRET_KEY"`
	PaystackBaseURL   string `mapstructure:"PAYSTACK_BASE_URL"`

	PaymentCatchupSchedule string `mapstructure:"PAYMENT_CATCHUP_SCHEDULE"`
	DailySyncSchedule      string `mapstructure:"DAILY_SYNC_SCHEDULE"`

	WebhookRateLimit       int `mapstructure:"WEBHOOK_RATE_LIMIT"`
	WebhookRateWindowSecs  int `mapstructure:"WEBHOOK_RATE_WINDOW_SECONDS"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	viper.SetDefault("PORT", "8080")
	// PayFast's published ITN source addresses.
	viper.SetDefault("PAYFAST_ALLOWED_IPS",
		"197.97.145.144,197.97.145.145,197.97.145.146,197.97.145.147,197.97.145.148,197.97.145.149")
	viper.SetDefault("PAYMENT_CATCHUP_SCHEDULE", "0 * * * *")  // At minute 0 of every hour.
	viper.SetDefault("DAILY_SYNC_SCHEDULE", "30 2 * * *")      // At 02:30 every day.
	viper.SetDefault("WEBHOOK_RATE_LIMIT", 60)
	viper.SetDefault("WEBHOOK_RATE_WINDOW_SECONDS", 60)
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PAYFAST_PASSPHRASE")
	_ = viper.BindEnv("PAYFAST_VALIDATE_URL")
	_ = viper.BindEnv("PAYFAST_ALLOWED_IPS")
	_ = viper.BindEnv("PAYSTACK_SECRET_KEY")
	_ = viper.BindEnv("PAYSTACK_BASE_URL")
	_ = viper.BindEnv("PAYMENT_CATCHUP_SCHEDULE")
	_ = viper.BindEnv("DAILY_SYNC_SCHEDULE")
	_ = viper.BindEnv("WEBHOOK_RATE_LIMIT")
	_ = viper.BindEnv("WEBHOOK_RATE_WINDOW_SECONDS")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	return &config, nil
}

// AllowedIPList splits the configured allow-list into individual addresses.
func (c *Config) AllowedIPList() []string {
	parts := strings.Split(c.PayFastAllowedIPs, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
