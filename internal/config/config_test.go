package config

import (
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_RequiresDatabaseURL(t *testing.T) {
	viper.Reset()

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected an error when DATABASE_URL is unset")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/payments")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.PaymentCatchupSchedule != "0 * * * *" {
		t.Errorf("PaymentCatchupSchedule = %q", cfg.PaymentCatchupSchedule)
	}
	if cfg.DailySyncSchedule != "30 2 * * *" {
		t.Errorf("DailySyncSchedule = %q", cfg.DailySyncSchedule)
	}
	if cfg.WebhookRateLimit != 60 || cfg.WebhookRateWindowSecs != 60 {
		t.Errorf("rate limit defaults = %d/%ds", cfg.WebhookRateLimit, cfg.WebhookRateWindowSecs)
	}

	ips := cfg.AllowedIPList()
	if len(ips) != 6 {
		t.Fatalf("default allow-list has %d entries, want 6", len(ips))
	}
	if ips[0] != "197.97.145.144" || ips[5] != "197.97.145.149" {
		t.Errorf("unexpected allow-list bounds: %v", ips)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	viper.Reset()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/payments")
	t.Setenv("PORT", "9090")
	t.Setenv("PAYFAST_PASSPHRASE", "secret")
	t.Setenv("PAYFAST_ALLOWED_IPS", "10.0.0.1, 10.0.0.2")
	t.Setenv("PAYMENT_CATCHUP_SCHEDULE", "*/15 * * * *")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.PayFastPassphrase != "secret" {
		t.Errorf("PayFastPassphrase = %q", cfg.PayFastPassphrase)
	}
	if cfg.PaymentCatchupSchedule != "*/15 * * * *" {
		t.Errorf("PaymentCatchupSchedule = %q", cfg.PaymentCatchupSchedule)
	}

	ips := cfg.AllowedIPList()
	if len(ips) != 2 || ips[0] != "10.0.0.1" || ips[1] != "10.0.0.2" {
		t.Errorf("allow-list = %v, want whitespace-trimmed pair", ips)
	}
}
