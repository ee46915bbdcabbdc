package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTMDB()
	c.normalizeLLM()
	c.normalizeMetrics()
	c.normalizeSources()
	c.normalizeLanes()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeTMDB() {
	// Environment variables take precedence over file values.
	if value, ok := os.LookupEnv("TMDB_API_KEY"); ok && strings.TrimSpace(value) != "" {
		c.TMDB.APIKey = value
	}
	c.TMDB.APIKey = strings.TrimSpace(c.TMDB.APIKey)
	c.TMDB.BaseURL = strings.TrimRight(strings.TrimSpace(c.TMDB.BaseURL), "/")
	if c.TMDB.BaseURL == "" {
		c.TMDB.BaseURL = defaultTMDBBaseURL
	}
	c.AniList.BaseURL = strings.TrimSpace(c.AniList.BaseURL)
	if c.AniList.BaseURL == "" {
		c.AniList.BaseURL = defaultAniListBaseURL
	}
	c.Jikan.BaseURL = strings.TrimRight(strings.TrimSpace(c.Jikan.BaseURL), "/")
	if c.Jikan.BaseURL == "" {
		c.Jikan.BaseURL = defaultJikanBaseURL
	}
}

func (c *Config) normalizeLLM() {
	if value, ok := os.LookupEnv("LLM_API_KEY"); ok && strings.TrimSpace(value) != "" {
		c.LLM.APIKey = value
	}
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
}

func (c *Config) normalizeMetrics() {
	if value, ok := os.LookupEnv("ANIMEINDEX_OPS_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.Metrics.Token = value
	}
	c.Metrics.Token = strings.TrimSpace(c.Metrics.Token)
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
}

func (c *Config) normalizeSources() {
	c.Scan.Sources = lowerUnique(c.Scan.Sources)
	c.Scan.FactsSource = strings.ToLower(strings.TrimSpace(c.Scan.FactsSource))
	c.Scan.AvailabilitySource = strings.ToLower(strings.TrimSpace(c.Scan.AvailabilitySource))
	regions := make([]string, 0, len(c.Scan.Regions))
	seen := make(map[string]struct{}, len(c.Scan.Regions))
	for _, region := range c.Scan.Regions {
		region = strings.ToUpper(strings.TrimSpace(region))
		if region == "" {
			continue
		}
		if _, ok := seen[region]; ok {
			continue
		}
		seen[region] = struct{}{}
		regions = append(regions, region)
	}
	c.Scan.Regions = regions
	c.Scan.ScoreProfiles = lowerUnique(c.Scan.ScoreProfiles)
	c.Scan.Schedule = strings.TrimSpace(c.Scan.Schedule)
}

func (c *Config) normalizeLanes() {
	for i := range c.Workflow.Lanes {
		c.Workflow.Lanes[i].Name = strings.TrimSpace(c.Workflow.Lanes[i].Name)
		if c.Workflow.Lanes[i].Name == "" {
			c.Workflow.Lanes[i].Name = fmt.Sprintf("lane-%d", i+1)
		}
		c.Workflow.Lanes[i].Kinds = lowerUnique(c.Workflow.Lanes[i].Kinds)
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func lowerUnique(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
