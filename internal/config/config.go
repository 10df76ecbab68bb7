package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultPnodeIDs is the tracked pricing-node list. Overridable via
// PNODE_IDS for deployments watching a different node set.
var DefaultPnodeIDs = []int64{
	51217, 51288, 4669664, 5413134, 31252687, 33092311, 33092313,
	33092315, 34497125, 34497127, 34497151, 35010337, 40523629,
	56958967, 81436855, 116013751, 116472927, 116472931, 116472933,
	116472935, 116472937, 116472939, 116472941, 116472943,
	116472945, 116472947, 116472949, 116472951, 116472953,
	116472955, 116472957, 116472959, 126769999, 1069452904,
	1124361945, 1127872598, 1258625176, 1269364670, 1269364671,
	1269364672, 1269364674, 1288248099, 1304468347, 1441662202,
	1709726615, 2156111904,
}

// AppConfig is the process configuration, constructed once at startup and
// passed by reference into the components that need it. Business logic never
// reads the environment directly.
type AppConfig struct {
	// PJMAPIKey authenticates against the upstream Data Miner API.
	PJMAPIKey string

	// DatabaseURL is the Postgres connection string.
	DatabaseURL string

	// PnodeIDs is the tracked pricing-node list.
	PnodeIDs []int64

	// RateDelay is the mandatory delay between consecutive upstream calls.
	RateDelay time.Duration

	// CycleInterval is the watchdog tick between incremental passes.
	CycleInterval time.Duration

	// FullResyncInterval is the cadence of the full resync.
	FullResyncInterval time.Duration

	// LookbackDays bounds first-run backfill cost for daily tables.
	LookbackDays int

	// VerifiedWindowDays is the trailing window of the verified override,
	// sized to exceed the upstream's worst-case publication delay.
	VerifiedWindowDays int

	// BootstrapLookback bounds the incremental pass when the hourly table
	// is empty.
	BootstrapLookback time.Duration

	// HTTPTimeout applies to outbound upstream calls.
	HTTPTimeout time.Duration

	// Port is the query API listen port.
	Port string

	// LogLevel is the zerolog level name.
	LogLevel string
}

// Load reads configuration from the environment with sensible defaults.
// Missing credentials or connection parameters are startup errors: silent
// operation without them is worse than a visible crash.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{}

	cfg.PJMAPIKey = os.Getenv("PJM_API_KEY")
	if cfg.PJMAPIKey == "" {
		return nil, fmt.Errorf("PJM_API_KEY is required")
	}

	dbURL, err := loadDatabaseURL()
	if err != nil {
		return nil, err
	}
	cfg.DatabaseURL = dbURL

	ids, err := loadPnodeIDs()
	if err != nil {
		return nil, err
	}
	cfg.PnodeIDs = ids

	for _, d := range []struct {
		dst *time.Duration
		key string
		def string
	}{
		{&cfg.RateDelay, "RATE_DELAY", "5s"},
		{&cfg.CycleInterval, "CYCLE_INTERVAL", "5m"},
		{&cfg.FullResyncInterval, "FULL_RESYNC_INTERVAL", "6h"},
		{&cfg.BootstrapLookback, "HOURLY_BOOTSTRAP_LOOKBACK", "48h"},
		{&cfg.HTTPTimeout, "HTTP_TIMEOUT", "60s"},
	} {
		v, err := time.ParseDuration(getenvDefault(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = v
	}

	cfg.LookbackDays = getenvInt("LOOKBACK_DAYS", 30)
	cfg.VerifiedWindowDays = getenvInt("VERIFIED_WINDOW_DAYS", 5)
	cfg.Port = getenvDefault("PORT", "8080")
	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")

	return cfg, nil
}

// loadDatabaseURL accepts either a full DATABASE_URL or discrete DB_*
// variables assembled into a lib/pq connection string.
func loadDatabaseURL() (string, error) {
	if u := os.Getenv("DATABASE_URL"); u != "" {
		return u, nil
	}

	host := os.Getenv("DB_HOST")
	user := os.Getenv("DB_USER")
	password := os.Getenv("DB_PASSWORD")
	name := os.Getenv("DB_NAME")
	if host == "" || user == "" || password == "" || name == "" {
		return "", fmt.Errorf("database configuration is required: set DATABASE_URL or DB_HOST/DB_USER/DB_PASSWORD/DB_NAME")
	}
	port := getenvDefault("DB_PORT", "5432")
	sslmode := getenvDefault("DB_SSLMODE", "disable")

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, name, sslmode), nil
}

func loadPnodeIDs() ([]int64, error) {
	raw := os.Getenv("PNODE_IDS")
	if raw == "" {
		ids := make([]int64, len(DefaultPnodeIDs))
		copy(ids, DefaultPnodeIDs)
		return ids, nil
	}

	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid PNODE_IDS entry %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("PNODE_IDS is set but contains no ids")
	}
	return ids, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}
