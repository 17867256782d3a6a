// Package config reads the environment variables named in spec.md §6 once
// at process start into an immutable Config value, the way the teacher
// reads grove.yml/env once in orchestration.Config (pkg/orchestration/config.go)
// rather than re-reading ad hoc at every call site ("no global state").
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RetryPolicy bounds attempts and backoff for one failure kind (general or
// rate_limit), sourced from the JOB_LLM_*_RETRY_{MAX_ATTEMPTS,BASE_MS,MAX_MS}
// environment variables.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Config is the full set of tunables recognized by the core (spec.md §6).
type Config struct {
	StateRoot string `yaml:"-"`
	WorkRoot  string `yaml:"-"`

	WorkQueueStaleClaim time.Duration `yaml:"-"`

	ClaimTTL            time.Duration `yaml:"-"`
	ClaimLeaseSlack     time.Duration `yaml:"-"`
	HeartbeatInterval   time.Duration `yaml:"-"`
	NonReportingGrace   time.Duration `yaml:"-"`

	IdleBackoffBase time.Duration `yaml:"-"`
	IdleBackoffMax  time.Duration `yaml:"-"`

	RateLimitRetry RetryPolicy `yaml:"-"`
	GeneralRetry   RetryPolicy `yaml:"-"`

	CLIBinOverride    string            `yaml:"-"`
	ProviderCLIBin    map[string]string `yaml:"-"`
	SkipGitClone      bool              `yaml:"-"`
	KeepTmuxSession   bool              `yaml:"-"`
	TmuxVisualization bool              `yaml:"-"`
	WorkerConcurrency int               `yaml:"-"`

	// RoleCommands holds optional overrides for per-role command templates,
	// keyed "provider/role" or just "role". Load does not set it;
	// LoadRoleCommandFile reads the same role_commands key from a yaml file
	// into a separate map, mirroring the teacher's yaml-frontmatter config
	// idiom (pkg/orchestration/loader.go).
	RoleCommands map[string]string `yaml:"role_commands"`
}

// Load reads Config from the process environment, applying spec.md §4.3's
// defaults: claimTTL 60s, leaseSlack 15s, heartbeatInterval 10s,
// nonReportingGrace 30s, minimum effective lease >= 15s.
func Load() Config {
	c := Config{
		StateRoot:         envOr("OMX_STATE_ROOT", defaultStateRoot()),
		WorkRoot:          envOr("WORK_ROOT", "."),
		WorkQueueStaleClaim: durationOr("WORK_QUEUE_STALE_CLAIM_MS", 60*time.Second),

		ClaimTTL:          durationOr("TEAM_TASK_CLAIM_TTL_MS", 60*time.Second),
		ClaimLeaseSlack:   durationOr("TEAM_TASK_CLAIM_LEASE_SLACK_MS", 15*time.Second),
		HeartbeatInterval: durationOr("TEAM_TASK_HEARTBEAT_MS", 10*time.Second),
		NonReportingGrace: durationOr("TEAM_TASK_NON_REPORTING_GRACE_MS", 30*time.Second),

		IdleBackoffBase: durationOr("TEAM_IDLE_BACKOFF_BASE_MS", 800*time.Millisecond),
		IdleBackoffMax:  durationOr("TEAM_IDLE_BACKOFF_MAX_MS", 8*time.Second),

		RateLimitRetry: RetryPolicy{
			MaxAttempts: intOr("JOB_LLM_RATE_LIMIT_RETRY_MAX_ATTEMPTS", 5),
			BaseDelay:   durationOr("JOB_LLM_RATE_LIMIT_RETRY_BASE_MS", 2*time.Second),
			MaxDelay:    durationOr("JOB_LLM_RATE_LIMIT_RETRY_MAX_MS", 60*time.Second),
		},
		GeneralRetry: RetryPolicy{
			MaxAttempts: intOr("JOB_LLM_RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:   durationOr("JOB_LLM_RETRY_BASE_MS", 1*time.Second),
			MaxDelay:    durationOr("JOB_LLM_RETRY_MAX_MS", 30*time.Second),
		},

		CLIBinOverride:    os.Getenv("JOB_CLI_BIN"),
		ProviderCLIBin:    providerCLIBins(),
		SkipGitClone:      boolOr("JOB_SKIP_GIT_CLONE", false),
		KeepTmuxSession:   boolOr("TMUX_KEEP_SESSION_ON_FINISH", false),
		TmuxVisualization: boolOr("TEAM_TMUX_VISUALIZATION", false),
		WorkerConcurrency: intOr("WORKER_CONCURRENCY", 1),
	}

	if c.ClaimTTL+c.ClaimLeaseSlack < 15*time.Second {
		c.ClaimLeaseSlack = 15 * time.Second
	}

	return c
}

func defaultStateRoot() string {
	return ".omx/state/jobs"
}

func providerCLIBins() map[string]string {
	m := map[string]string{
		"codex":  "codex",
		"claude": "claude",
		"gemini": "gemini",
	}
	for provider := range m {
		key := "JOB_" + strings.ToUpper(provider) + "_CLI_BIN"
		if v := os.Getenv(key); v != "" {
			m[provider] = v
		}
	}
	return m
}

// RoleCommandOverride resolves an explicit command template for (provider,
// role) following §4.5's precedence: per-role override in job options is
// checked by the caller first; this covers the next two tiers, env
// JOB_<PROVIDER>_<ROLE>_CMD then env JOB_<ROLE>_CMD.
func RoleCommandOverride(provider, role string) string {
	if v := os.Getenv("JOB_" + strings.ToUpper(provider) + "_" + strings.ToUpper(role) + "_CMD"); v != "" {
		return v
	}
	if v := os.Getenv("JOB_" + strings.ToUpper(role) + "_CMD"); v != "" {
		return v
	}
	return ""
}

// LoadRoleCommandFile reads an optional yaml file of role command template
// overrides, the same shape the teacher loads frontmatter/config with.
func LoadRoleCommandFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	var out struct {
		RoleCommands map[string]string `yaml:"role_commands"`
	}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out.RoleCommands, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func intOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func boolOr(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
