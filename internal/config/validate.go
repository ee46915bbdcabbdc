package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable. Credentials are not required
// here so read-only commands work without them; worker startup checks them
// through RequireSource.
func (c *Config) Validate() error {
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateMatching(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateScan(); err != nil {
		return err
	}
	return nil
}

// RequireSource reports a configuration error when a source needed by an
// enabled lane or scan is missing credentials.
func (c *Config) RequireSource(source string) error {
	switch source {
	case SourceAniList, SourceJikan:
		return nil
	case SourceTMDB:
		if c.TMDB.APIKey == "" {
			defaultPath, err := DefaultConfigPath()
			if err != nil {
				defaultPath = defaultConfigPath
			}
			return fmt.Errorf("tmdb.api_key is required. Set TMDB_API_KEY env var or edit %s (create with 'animeindex config init')", defaultPath)
		}
		return nil
	case "llm":
		if c.LLM.APIKey == "" {
			return errors.New("llm.api_key is required for generate-score lanes. Set LLM_API_KEY env var or edit the config file")
		}
		return nil
	default:
		return fmt.Errorf("unknown source %q", source)
	}
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelayMillis < 0 || c.Retry.MaxDelayMillis < 0 {
		return errors.New("retry delays must not be negative")
	}
	if c.Retry.MaxDelayMillis > 0 && c.Retry.BaseDelayMillis > c.Retry.MaxDelayMillis {
		return errors.New("retry.base_delay_ms must not exceed retry.max_delay_ms")
	}
	for name, interval := range map[string]int{
		"anilist.min_interval_ms": c.AniList.MinIntervalMillis,
		"tmdb.min_interval_ms":    c.TMDB.MinIntervalMillis,
		"jikan.min_interval_ms":   c.Jikan.MinIntervalMillis,
		"llm.min_interval_ms":     c.LLM.MinIntervalMillis,
	} {
		if interval < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.Breaker.Enabled {
		if c.Breaker.FailureRatio <= 0 || c.Breaker.FailureRatio > 1 {
			return errors.New("breaker.failure_ratio must be in (0, 1]")
		}
		if c.Breaker.OpenSeconds <= 0 {
			return errors.New("breaker.open_seconds must be positive")
		}
	}
	return nil
}

func (c *Config) validateMatching() error {
	m := c.Matching
	for name, value := range map[string]float64{
		"matching.near_certain":   m.NearCertain,
		"matching.high":           m.High,
		"matching.clear_gap":      m.ClearGap,
		"matching.lone_candidate": m.LoneCandidate,
	} {
		if value < 0 || value > 1 {
			return fmt.Errorf("%s must be between 0 and 1", name)
		}
	}
	if m.High > m.NearCertain {
		return errors.New("matching.high must not exceed matching.near_certain")
	}
	for i, step := range m.Ladder {
		if step.Score < 0 || step.Score > 1 || step.Gap < 0 || step.Gap > 1 {
			return fmt.Errorf("matching.ladder[%d] values must be between 0 and 1", i)
		}
	}
	if m.TopK < 1 {
		return errors.New("matching.top_k must be at least 1")
	}
	if m.ShortASCIIMaxLen < 0 {
		return errors.New("matching.short_ascii_max_len must not be negative")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.MaxAttempts < 1 {
		return errors.New("queue.max_attempts must be at least 1")
	}
	if c.Queue.RetryBaseSeconds < 0 || c.Queue.RetryMaxSeconds < 0 {
		return errors.New("queue retry delays must not be negative")
	}
	if c.Queue.ClaimTimeoutSeconds <= 0 {
		return errors.New("queue.claim_timeout_seconds must be positive")
	}
	if c.Queue.HeartbeatIntervalSeconds <= 0 {
		return errors.New("queue.heartbeat_interval_seconds must be positive")
	}
	if c.Queue.HeartbeatIntervalSeconds >= c.Queue.ClaimTimeoutSeconds {
		return errors.New("queue.heartbeat_interval_seconds must be shorter than queue.claim_timeout_seconds")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.PollIntervalSeconds <= 0 {
		return errors.New("workflow.poll_interval_seconds must be positive")
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		return errors.New("workflow.error_retry_interval must be positive")
	}
	if c.Workflow.IterationBudget < 0 {
		return errors.New("workflow.iteration_budget must not be negative")
	}
	known := KnownTaskKinds()
	names := make(map[string]struct{}, len(c.Workflow.Lanes))
	for _, lane := range c.Workflow.Lanes {
		if _, dup := names[lane.Name]; dup {
			return fmt.Errorf("workflow.lanes: duplicate lane name %q", lane.Name)
		}
		names[lane.Name] = struct{}{}
		for _, kind := range lane.Kinds {
			if !slices.Contains(known, kind) {
				return fmt.Errorf("workflow.lanes[%s]: unknown task kind %q (valid: %s)", lane.Name, kind, strings.Join(known, ", "))
			}
		}
	}
	return nil
}

func (c *Config) validateScan() error {
	for _, source := range c.Scan.Sources {
		switch source {
		case SourceAniList, SourceTMDB, SourceJikan:
		default:
			return fmt.Errorf("scan.sources: unknown source %q", source)
		}
	}
	if c.Scan.FactsSource != "" && !slices.Contains(c.Scan.Sources, c.Scan.FactsSource) {
		return fmt.Errorf("scan.facts_source %q must be listed in scan.sources", c.Scan.FactsSource)
	}
	if c.Scan.AvailabilitySource != "" && c.Scan.AvailabilitySource != SourceTMDB {
		return fmt.Errorf("scan.availability_source must be %q", SourceTMDB)
	}
	if c.Scan.BatchSize < 1 {
		return errors.New("scan.batch_size must be at least 1")
	}
	if c.Scan.ResolveRetryDays < 0 || c.Scan.FactsFreshDays < 0 || c.Scan.AvailabilityFreshDays < 0 {
		return errors.New("scan freshness windows must not be negative")
	}
	if c.Scan.Schedule != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(c.Scan.Schedule); err != nil {
			return fmt.Errorf("scan.schedule: %w", err)
		}
	}
	return nil
}
