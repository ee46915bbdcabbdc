package config

const (
	defaultConfigPath = "~/.config/animeindex/config.toml"
	defaultDataDir    = "~/.local/share/animeindex"
	defaultLogDir     = "~/.local/share/animeindex/logs"

	defaultAniListBaseURL     = "https://graphql.anilist.co"
	defaultAniListPerPage     = 10
	defaultAniListMinInterval = 700
	defaultTMDBBaseURL        = "https://api.themoviedb.org/3"
	defaultTMDBLanguage       = "en-US"
	defaultTMDBMinInterval    = 250
	defaultJikanBaseURL       = "https://api.jikan.moe/v4"
	defaultJikanSearchLimit   = 10
	defaultJikanMinInterval   = 1000
	defaultLLMBaseURL         = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel           = "google/gemini-3-flash-preview"
	defaultLLMTitle           = "animeindex scorer"
	defaultLLMTimeoutSeconds  = 60
	defaultLLMMinInterval     = 1000

	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 60
)

// Task kind names accepted in lane and scan configuration.
const (
	KindResolveID         = "resolve-id"
	KindFetchFacts        = "fetch-facts"
	KindCheckAvailability = "check-availability"
	KindGenerateScore     = "generate-score"
)

// KnownTaskKinds lists every task kind a worker lane may claim.
func KnownTaskKinds() []string {
	return []string{KindResolveID, KindFetchFacts, KindCheckAvailability, KindGenerateScore}
}

// Source names accepted in scan configuration.
const (
	SourceAniList = "anilist"
	SourceTMDB    = "tmdb"
	SourceJikan   = "jikan"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		AniList: AniList{
			BaseURL:           defaultAniListBaseURL,
			PerPage:           defaultAniListPerPage,
			MinIntervalMillis: defaultAniListMinInterval,
		},
		TMDB: TMDB{
			BaseURL:           defaultTMDBBaseURL,
			Language:          defaultTMDBLanguage,
			MinIntervalMillis: defaultTMDBMinInterval,
		},
		Jikan: Jikan{
			BaseURL:           defaultJikanBaseURL,
			SearchLimit:       defaultJikanSearchLimit,
			MinIntervalMillis: defaultJikanMinInterval,
		},
		LLM: LLM{
			BaseURL:           defaultLLMBaseURL,
			Model:             defaultLLMModel,
			Title:             defaultLLMTitle,
			TimeoutSeconds:    defaultLLMTimeoutSeconds,
			MinIntervalMillis: defaultLLMMinInterval,
		},
		Retry: Retry{
			MaxAttempts:          5,
			BaseDelayMillis:      1000,
			MaxDelayMillis:       30000,
			MaxRetryAfterSeconds: 300,
		},
		Breaker: Breaker{
			Enabled:          true,
			MinRequests:      10,
			FailureRatio:     0.6,
			OpenSeconds:      120,
			HalfOpenRequests: 3,
		},
		Matching: Matching{
			NearCertain:      0.97,
			High:             0.90,
			ClearGap:         0.08,
			LoneCandidate:    0.80,
			ShortASCIIMaxLen: 6,
			TopK:             5,
			Ladder: []LadderStep{
				{Score: 0.95, Gap: 0.02},
				{Score: 0.915, Gap: 0.03},
				{Score: 0.88, Gap: 0.06},
			},
		},
		Queue: Queue{
			MaxAttempts:              5,
			RetryBaseSeconds:         30,
			RetryMaxSeconds:          3600,
			ClaimTimeoutSeconds:      600,
			HeartbeatIntervalSeconds: 30,
			PruneAfterDays:           30,
		},
		Workflow: Workflow{
			PollIntervalSeconds: 5,
			ErrorRetryInterval:  10,
			Lanes: []Lane{
				{Name: "catalog", Kinds: []string{KindResolveID, KindFetchFacts}},
				{Name: "availability", Kinds: []string{KindCheckAvailability}},
				{Name: "scoring", Kinds: []string{KindGenerateScore}},
			},
		},
		Scan: Scan{
			Schedule:              "@every 6h",
			BatchSize:             200,
			Sources:               []string{SourceAniList, SourceJikan, SourceTMDB},
			FactsSource:           SourceAniList,
			AvailabilitySource:    SourceTMDB,
			Regions:               []string{"JP", "US"},
			ScoreProfiles:         []string{"overall"},
			ResolveRetryDays:      14,
			FactsFreshDays:        30,
			AvailabilityFreshDays: 7,
		},
		Scoring: Scoring{
			MalformedRetries: 2,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
