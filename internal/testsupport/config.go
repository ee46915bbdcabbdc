package testsupport

import (
	"path/filepath"
	"testing"

	"animeindex/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.TMDB.APIKey = "test"
	cfgVal.LLM.APIKey = "test"
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Metrics.Bind = "127.0.0.1:0"
	cfgVal.Retry.BaseDelayMillis = 1
	cfgVal.Retry.MaxDelayMillis = 5
	cfgVal.AniList.MinIntervalMillis = 0
	cfgVal.TMDB.MinIntervalMillis = 0
	cfgVal.Jikan.MinIntervalMillis = 0
	cfgVal.LLM.MinIntervalMillis = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithTMDBKey sets the TMDB API key on the test config.
func WithTMDBKey(key string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.TMDB.APIKey = key
	}
}

// WithQueuePolicy overrides the attempt ceiling and task backoff.
func WithQueuePolicy(maxAttempts, retryBaseSeconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.MaxAttempts = maxAttempts
		b.cfg.Queue.RetryBaseSeconds = retryBaseSeconds
	}
}

// WithProviderURLs points every provider client at the given base URL.
func WithProviderURLs(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.AniList.BaseURL = baseURL
		b.cfg.TMDB.BaseURL = baseURL
		b.cfg.Jikan.BaseURL = baseURL
		b.cfg.LLM.BaseURL = baseURL
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}

// WithOpsToken requires token on the ops listener's /api routes.
func WithOpsToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Metrics.Token = token
	}
}
