// Package config handles environment-based configuration loading and the
// YAML runtime config model, which is read once at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// EnvConfig holds all environment-variable-driven settings (not
// hot-updatable).
type EnvConfig struct {
	// Directories
	StateDir string
	CacheDir string

	// Network
	ListenAddress string
	Port          int

	// API
	APIMaxBodyBytes int
	AdminToken      string

	// Schedules
	RegistrySyncSchedule  string
	HealthRefreshSchedule string

	// Collaborator endpoints
	RegistryEndpoint string
	HealthEndpoint   string
	ProposalEndpoint string

	// Health cache
	HealthCacheTTL time.Duration

	// GeoIP database, optional
	GeoDBPath string

	// Runtime config file, optional
	RuntimeConfigPath string
}

// LoadEnvConfig reads environment variables and returns a validated
// EnvConfig. Returns an error listing every invalid or missing value.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	cfg.StateDir = envStr("FLEETD_STATE_DIR", "/var/lib/fleetd")
	cfg.CacheDir = envStr("FLEETD_CACHE_DIR", "/var/cache/fleetd")

	cfg.ListenAddress = strings.TrimSpace(envStr("FLEETD_LISTEN_ADDRESS", "0.0.0.0"))
	cfg.Port = envInt("FLEETD_PORT", 8440, &errs)

	cfg.APIMaxBodyBytes = envInt("FLEETD_API_MAX_BODY_BYTES", 1<<20, &errs)
	cfg.AdminToken = os.Getenv("FLEETD_ADMIN_TOKEN")

	cfg.RegistrySyncSchedule = envCron("FLEETD_REGISTRY_SYNC_SCHEDULE", "*/10 * * * *", &errs)
	cfg.HealthRefreshSchedule = envCron("FLEETD_HEALTH_REFRESH_SCHEDULE", "*/5 * * * *", &errs)

	cfg.RegistryEndpoint = envStr("FLEETD_REGISTRY_ENDPOINT", "")
	cfg.HealthEndpoint = envStr("FLEETD_HEALTH_ENDPOINT", "")
	cfg.ProposalEndpoint = envStr("FLEETD_PROPOSAL_ENDPOINT", "")

	cfg.HealthCacheTTL = envDuration("FLEETD_HEALTH_CACHE_TTL", 5*time.Minute, &errs)
	cfg.GeoDBPath = envStr("FLEETD_GEO_DB_PATH", "")
	cfg.RuntimeConfigPath = envStr("FLEETD_RUNTIME_CONFIG", "")

	if cfg.AdminToken != "" && IsWeakToken(cfg.AdminToken) {
		errs = append(errs, "FLEETD_ADMIN_TOKEN is too weak; use a longer, less guessable token")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func envStr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envInt(key string, def int, errs *[]string) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func envDuration(key string, def time.Duration, errs *[]string) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}

func envCron(key, def string, errs *[]string) string {
	v := envStr(key, def)
	if _, err := cron.ParseStandard(v); err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid cron expression %q: %v", key, v, err))
		return def
	}
	return v
}
