package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PJM_API_KEY", "key")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/pjm?sslmode=disable")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RateDelay != 5*time.Second {
		t.Errorf("RateDelay = %v", cfg.RateDelay)
	}
	if cfg.FullResyncInterval != 6*time.Hour {
		t.Errorf("FullResyncInterval = %v", cfg.FullResyncInterval)
	}
	if cfg.LookbackDays != 30 || cfg.VerifiedWindowDays != 5 {
		t.Errorf("lookback/verified = %d/%d", cfg.LookbackDays, cfg.VerifiedWindowDays)
	}
	if len(cfg.PnodeIDs) != len(DefaultPnodeIDs) {
		t.Errorf("expected default pnode list, got %d ids", len(cfg.PnodeIDs))
	}
}

func TestLoadMissingAPIKeyFails(t *testing.T) {
	t.Setenv("PJM_API_KEY", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/pjm")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing PJM_API_KEY")
	}
}

func TestLoadMissingDatabaseFails(t *testing.T) {
	t.Setenv("PJM_API_KEY", "key")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing database configuration")
	}
}

func TestLoadDiscreteDBVars(t *testing.T) {
	t.Setenv("PJM_API_KEY", "key")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_USER", "pjm")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "lmp")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, part := range []string{"host=db.internal", "port=5432", "dbname=lmp", "sslmode=disable"} {
		if !strings.Contains(cfg.DatabaseURL, part) {
			t.Errorf("DatabaseURL missing %q: %s", part, cfg.DatabaseURL)
		}
	}
}

func TestLoadCustomPnodeIDs(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PNODE_IDS", "51217, 51288")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.PnodeIDs) != 2 || cfg.PnodeIDs[0] != 51217 || cfg.PnodeIDs[1] != 51288 {
		t.Errorf("PnodeIDs = %v", cfg.PnodeIDs)
	}
}

func TestLoadBadPnodeIDsFails(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PNODE_IDS", "51217,abc")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid PNODE_IDS")
	}
}
