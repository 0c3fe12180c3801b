package config

import (
	"testing"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Server.Host == "" {
		t.Error("expected Server.Host to be set")
	}
	if cfg.Server.Port == 0 {
		t.Error("expected Server.Port to be non-zero")
	}
	if cfg.Database.Name == "" {
		t.Error("expected Database.Name to be set")
	}
	if cfg.Log.Level == "" {
		t.Error("expected Log.Level to be set")
	}
}

func TestConfig_DatabaseSettings(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Database.MaxOpenConns == 0 {
		t.Error("expected MaxOpenConns to be set")
	}
	if cfg.Database.MaxIdleConns == 0 {
		t.Error("expected MaxIdleConns to be set")
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		t.Error("expected ConnMaxLifetime to be set")
	}
}

func TestConfig_Timeouts(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.AI.Timeout == 0 {
		t.Error("expected AI timeout to be set")
	}
	if cfg.Translation.Timeout == 0 {
		t.Error("expected translation timeout to be set")
	}
	if cfg.Channels.ProfileTimeout == 0 {
		t.Error("expected profile lookup timeout to be set")
	}
	if cfg.Lock.TTL == 0 {
		t.Error("expected lock TTL to be set")
	}
}

func TestConfig_SchedulerDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Scheduler.SLACheckSpec == "" {
		t.Error("expected SLA check cron spec to be set")
	}
	if cfg.Scheduler.SweepSpec == "" {
		t.Error("expected sweep cron spec to be set")
	}
	if cfg.Scheduler.SweepThresholdMins != 60 {
		t.Errorf("expected default sweep threshold 60, got %d", cfg.Scheduler.SweepThresholdMins)
	}
	if cfg.Scheduler.SweepBatchSize != 50 {
		t.Errorf("expected default sweep batch size 50, got %d", cfg.Scheduler.SweepBatchSize)
	}
}

func TestConfig_WorkingLanguage(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Translation.WorkingLanguage != "ko" {
		t.Errorf("expected working language ko, got %s", cfg.Translation.WorkingLanguage)
	}
	if !cfg.Pipeline.ReopenResolved {
		t.Error("expected reopen_resolved to default to true")
	}
}
