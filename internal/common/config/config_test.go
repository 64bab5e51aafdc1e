package config

import "testing"

func TestLoadConfig(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "15432")
	t.Setenv("CRON_SECRET", "s3cret")
	t.Setenv("BOOKING_BLOCK_ON_PENDING", "true")
	t.Setenv("SBCNTR_ENABLE_TRACING", "")
	t.Setenv("AWS_XRAY_SDK_DISABLED", "")

	cfg, err := LoadConfig("token-1")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.DB.Host != "db.internal" || cfg.DB.Port != 15432 {
		t.Errorf("DB = %+v", cfg.DB)
	}
	if cfg.SFN.TaskToken != "token-1" {
		t.Errorf("TaskToken = %v", cfg.SFN.TaskToken)
	}
	if cfg.Cron.Secret != "s3cret" {
		t.Errorf("Cron.Secret = %v", cfg.Cron.Secret)
	}
	if !cfg.Booking.BlockOnPending {
		t.Error("BlockOnPending should be true")
	}
	if cfg.EnableTracing {
		t.Error("tracing should be disabled by default")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("CRON_SECRET", "")
	t.Setenv("BOOKING_BLOCK_ON_PENDING", "not-a-bool")
	t.Setenv("DB_PORT", "abc")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Cron.Secret != "" {
		t.Error("CRON_SECRET must not have a default")
	}
	if cfg.Booking.BlockOnPending {
		t.Error("BlockOnPending should default to false")
	}
	if cfg.DB.Port != 5432 {
		t.Errorf("DB.Port = %d, want 5432", cfg.DB.Port)
	}
	if cfg.Mail.Queue != "email.outbound" {
		t.Errorf("Mail.Queue = %v", cfg.Mail.Queue)
	}
}
