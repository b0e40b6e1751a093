package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadWithDSN(t *testing.T) {
	_ = os.Setenv("YSHOP_DATABASE_DSN", "yshop:secret@tcp(localhost:3306)/yshop?parseTime=true")
	defer func() { _ = os.Unsetenv("YSHOP_DATABASE_DSN") }()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected config to load with DSN, got error: %v", err)
	}

	if cfg.Database.Driver != "mysql" {
		t.Errorf("expected default driver 'mysql', got '%s'", cfg.Database.Driver)
	}

	if cfg.Server.Addr != ":3000" {
		t.Errorf("expected default addr ':3000', got '%s'", cfg.Server.Addr)
	}

	if cfg.Sync.PollInterval != 500*time.Millisecond {
		t.Errorf("expected default poll interval 500ms, got %v", cfg.Sync.PollInterval)
	}

	if cfg.Sync.BackpressureMin != 100*time.Millisecond {
		t.Errorf("expected default backpressure min 100ms, got %v", cfg.Sync.BackpressureMin)
	}
}

func TestLoadWithoutDSN(t *testing.T) {
	_ = os.Unsetenv("YSHOP_DATABASE_DSN")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when database dsn is missing")
	}
}

func TestValidateRejectsBadDriver(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{Driver: "postgres", DSN: "dsn", MaxOpenConns: 5},
		Sync: SyncConfig{
			PollInterval:    500 * time.Millisecond,
			BackpressureMin: 100 * time.Millisecond,
		},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported database driver")
	}
}

func TestValidateRejectsZeroInterval(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{Driver: "mysql", DSN: "dsn", MaxOpenConns: 5},
		Sync: SyncConfig{
			PollInterval:    0,
			BackpressureMin: 100 * time.Millisecond,
		},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when poll_interval is zero")
	}
}
