package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// AniList contains configuration for the AniList GraphQL catalog.
type AniList struct {
	BaseURL           string `toml:"base_url"`
	PerPage           int    `toml:"per_page"`
	MinIntervalMillis int    `toml:"min_interval_ms"`
}

// TMDB contains configuration for The Movie Database API.
type TMDB struct {
	APIKey            string `toml:"api_key"`
	BaseURL           string `toml:"base_url"`
	Language          string `toml:"language"`
	MinIntervalMillis int    `toml:"min_interval_ms"`
}

// Jikan contains configuration for the Jikan (MyAnimeList) REST API.
type Jikan struct {
	BaseURL           string `toml:"base_url"`
	SearchLimit       int    `toml:"search_limit"`
	MinIntervalMillis int    `toml:"min_interval_ms"`
}

// LLM contains the chat-completion settings used for score generation.
type LLM struct {
	APIKey            string `toml:"api_key"`
	BaseURL           string `toml:"base_url"`
	Model             string `toml:"model"`
	Referer           string `toml:"referer"`
	Title             string `toml:"title"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	MinIntervalMillis int    `toml:"min_interval_ms"`
}

// Retry holds the intra-call retry policy shared by every provider connection.
type Retry struct {
	MaxAttempts          int `toml:"max_attempts"`
	BaseDelayMillis      int `toml:"base_delay_ms"`
	MaxDelayMillis       int `toml:"max_delay_ms"`
	MaxRetryAfterSeconds int `toml:"max_retry_after_seconds"`
}

// Breaker configures the per-connection circuit breaker.
type Breaker struct {
	Enabled          bool    `toml:"enabled"`
	MinRequests      int     `toml:"min_requests"`
	FailureRatio     float64 `toml:"failure_ratio"`
	OpenSeconds      int     `toml:"open_seconds"`
	HalfOpenRequests int     `toml:"half_open_requests"`
}

// LadderStep is one (score, gap) pair of the confirmation ladder.
type LadderStep struct {
	Score float64 `toml:"score"`
	Gap   float64 `toml:"gap"`
}

// Matching holds the resolver's confirmation policy.
type Matching struct {
	NearCertain      float64      `toml:"near_certain"`
	High             float64      `toml:"high"`
	ClearGap         float64      `toml:"clear_gap"`
	LoneCandidate    float64      `toml:"lone_candidate"`
	ShortASCIIMaxLen int          `toml:"short_ascii_max_len"`
	TopK             int          `toml:"top_k"`
	Ladder           []LadderStep `toml:"ladder"`
}

// Queue contains task queue retry and claim settings.
type Queue struct {
	MaxAttempts              int `toml:"max_attempts"`
	RetryBaseSeconds         int `toml:"retry_base_seconds"`
	RetryMaxSeconds          int `toml:"retry_max_seconds"`
	ClaimTimeoutSeconds      int `toml:"claim_timeout_seconds"`
	HeartbeatIntervalSeconds int `toml:"heartbeat_interval_seconds"`
	PruneAfterDays           int `toml:"prune_after_days"`
}

// Lane is one worker goroutine with its own kind filter.
type Lane struct {
	Name  string   `toml:"name"`
	Kinds []string `toml:"kinds"`
}

// Workflow contains worker loop timing.
type Workflow struct {
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	ErrorRetryInterval  int    `toml:"error_retry_interval"`
	IterationBudget     int    `toml:"iteration_budget"`
	Lanes               []Lane `toml:"lanes"`
}

// Scan configures the enqueue scanner.
type Scan struct {
	Schedule              string   `toml:"schedule"`
	BatchSize             int      `toml:"batch_size"`
	Sources               []string `toml:"sources"`
	FactsSource           string   `toml:"facts_source"`
	AvailabilitySource    string   `toml:"availability_source"`
	Regions               []string `toml:"regions"`
	ScoreProfiles         []string `toml:"score_profiles"`
	ResolveRetryDays      int      `toml:"resolve_retry_days"`
	FactsFreshDays        int      `toml:"facts_fresh_days"`
	AvailabilityFreshDays int      `toml:"availability_fresh_days"`
}

// Scoring configures LLM score generation.
type Scoring struct {
	MalformedRetries int `toml:"malformed_retries"`
}

// Metrics configures the ops HTTP listener. An empty bind disables it.
// Token, when set, is required as a bearer token on the /api routes.
type Metrics struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for animeindex.
//
// Configuration sections by subsystem:
//   - Paths: database and log directories
//   - AniList, TMDB, Jikan, LLM: external source connections
//   - Retry, Breaker: per-connection call policy
//   - Matching: resolver confirmation thresholds
//   - Queue: attempt ceiling, task backoff, claim staleness
//   - Workflow: worker lanes and polling
//   - Scan: enqueue scanner schedule and freshness windows
//   - Scoring: LLM output validation retries
//   - Metrics: ops listener
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	AniList  AniList  `toml:"anilist"`
	TMDB     TMDB     `toml:"tmdb"`
	Jikan    Jikan    `toml:"jikan"`
	LLM      LLM      `toml:"llm"`
	Retry    Retry    `toml:"retry"`
	Breaker  Breaker  `toml:"breaker"`
	Matching Matching `toml:"matching"`
	Queue    Queue    `toml:"queue"`
	Workflow Workflow `toml:"workflow"`
	Scan     Scan     `toml:"scan"`
	Scoring  Scoring  `toml:"scoring"`
	Metrics  Metrics  `toml:"metrics"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("animeindex.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDatabasePath is the SQLite file holding queue tasks.
func (c *Config) QueueDatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// CatalogDatabasePath is the SQLite file holding canonical works.
func (c *Config) CatalogDatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "catalog.db")
}

// ScanLockPath guards against concurrent enqueue scans.
func (c *Config) ScanLockPath() string {
	return filepath.Join(c.Paths.DataDir, "scan.lock")
}

// LogFilePattern matches the per-run log files inside the log directory.
const LogFilePattern = "animeindex-*.log"

// RunLogPath is the log file for one process run. runID should sort by start
// time; see NewRunID.
func (c *Config) RunLogPath(runID string) string {
	return filepath.Join(c.Paths.LogDir, "animeindex-"+runID+".log")
}

// NewRunID formats a run start time as a lexically sortable log suffix.
func NewRunID(now time.Time) string {
	return now.UTC().Format("20060102T150405.000Z")
}

// PollInterval returns the worker idle poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.PollIntervalSeconds) * time.Second
}

// ClaimTimeout is the age after which a claim with no heartbeat counts as abandoned.
func (c *Config) ClaimTimeout() time.Duration {
	return time.Duration(c.Queue.ClaimTimeoutSeconds) * time.Second
}

// HeartbeatInterval returns how often running tasks refresh their claim.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Queue.HeartbeatIntervalSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML with secrets masked.
func (c *Config) Encode() ([]byte, error) {
	masked := *c
	masked.TMDB.APIKey = maskSecret(masked.TMDB.APIKey)
	masked.LLM.APIKey = maskSecret(masked.LLM.APIKey)
	masked.Metrics.Token = maskSecret(masked.Metrics.Token)
	return toml.Marshal(masked)
}

func maskSecret(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "****"
	}
	return value[:2] + strings.Repeat("*", len(value)-4) + value[len(value)-2:]
}
