package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "agentd.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "AGENTD_PORT")
	setString(&cfg.Server.CORSOrigin, "AGENTD_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "AGENTD_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "AGENTD_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "AGENTD_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "AGENTD_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "AGENTD_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setInt64(&cfg.Cache.MaxSizeMB, "AGENTD_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.SessionTTL, "AGENTD_CACHE_SESSION_TTL")
	setString(&cfg.Logging.Level, "AGENTD_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AGENTD_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "AGENTD_LOG_ASYNC")
	setInt(&cfg.Git.MaxConcurrent, "AGENTD_GIT_MAX_CONCURRENT")
	setString(&cfg.Git.Remote, "AGENTD_GIT_REMOTE")
	setString(&cfg.Git.MainBranch, "AGENTD_GIT_MAIN_BRANCH")
	setString(&cfg.Git.BranchPrefix, "AGENTD_GIT_BRANCH_PREFIX")
	setString(&cfg.Git.CommitPrefix, "AGENTD_GIT_COMMIT_PREFIX")
	setString(&cfg.Agent.Bin, "AGENTD_AGENT_BIN")
	setString(&cfg.Agent.Model, "AGENTD_AGENT_MODEL")
	setString(&cfg.Agent.WorkDir, "AGENTD_WORK_DIR")
	setString(&cfg.Agent.DataDir, "AGENTD_DATA_DIR")
	setInt(&cfg.Agent.ThreadMaxRuns, "AGENTD_THREAD_MAX_RUNS")
	setDuration(&cfg.Agent.Heartbeat, "AGENTD_HEARTBEAT")
	setDuration(&cfg.Agent.CancelPoll, "AGENTD_CANCEL_POLL")
	setStrings(&cfg.Agent.ProtectedPaths, "AGENTD_PROTECTED_PATHS")
	setStrings(&cfg.Agent.EditablePaths, "AGENTD_EDITABLE_PATHS")
	setString(&cfg.Auth.TokenHash, "AGENTD_AUTH_TOKEN_HASH")
	setString(&cfg.Otel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Agent.WorkDir == "" {
		return errors.New("agent.work_dir is required")
	}
	if cfg.Agent.ThreadMaxRuns < 1 {
		return errors.New("agent.thread_max_runs must be >= 1")
	}
	if cfg.Agent.Heartbeat <= 0 {
		return errors.New("agent.heartbeat must be positive")
	}
	if cfg.Agent.CancelPoll <= 0 {
		return errors.New("agent.cancel_poll must be positive")
	}
	if cfg.Git.MaxConcurrent < 1 {
		return errors.New("git.max_concurrent must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStrings(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
