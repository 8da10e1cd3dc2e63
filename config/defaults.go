package config

import (
	"time"

	"github.com/jonwraymond/callgate/observe"
)

func intPtr(n int) *int { return &n }

// BuiltinResources returns the budgets of the providers callgate was first
// deployed against. Fields left zero inherit Config.Defaults.
func BuiltinResources() map[string]ResourceConfig {
	return map[string]ResourceConfig{
		"openai": {
			RequestsPerMinute: 500,
			Burst:             100,
			DailyQuota:        10000,
			MaxConcurrent:     50,
		},
		"gemini": {
			RequestsPerMinute: 60,
			Burst:             20,
			DailyQuota:        1500,
			MaxConcurrent:     15,
		},
		"perplexity": {
			RequestsPerMinute: 50,
			Burst:             10,
			MaxConcurrent:     8,
		},
		"web_scraping": {
			RequestsPerMinute: 100,
			Burst:             15,
		},
		"pinecone": {
			RequestsPerMinute: 100,
			Burst:             50,
		},
	}
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Observe: observe.Config{
			ServiceName: "callgate",
			Logging: observe.LoggingConfig{
				Enabled: true,
				Level:   "info",
				Format:  "json",
			},
		},
		Defaults: ResourceConfig{
			RatePerSecond:    10,
			Burst:            10,
			MaxConcurrent:    10,
			FailureThreshold: 5,
			RecoveryTimeout:  60 * time.Second,
			HalfOpenProbes:   1,
			MaxRetries:       intPtr(3),
			BaseDelay:        time.Second,
			MaxDelay:         30 * time.Second,
			Multiplier:       2,
			Timeout:          30 * time.Second,
		},
		Resources: BuiltinResources(),
		Dispatch: DispatchConfig{
			Workers:               10,
			Timeout:               30 * time.Second,
			DegradedDivisor:       2,
			DegradedTimeoutFactor: 2,
			IsolatedTimeoutFactor: 4,
		},
		Batch: BatchConfig{
			DefaultSize:   30,
			MinSize:       6,
			MaxSize:       100,
			MaxConcurrent: 4,
			Delay:         100 * time.Millisecond,
		},
		Cache: CacheConfig{
			Backend:    CacheMemory,
			Prefix:     "callgate:",
			DefaultTTL: time.Hour,
			MaxTTL:     24 * time.Hour,
		},
	}
}
