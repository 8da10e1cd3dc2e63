package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/callgate/batch"
	"github.com/jonwraymond/callgate/cache"
	"github.com/jonwraymond/callgate/dispatch"
	"github.com/jonwraymond/callgate/observe"
	"github.com/jonwraymond/callgate/resilience"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Cache backends.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config is the full callgate configuration.
type Config struct {
	Observe observe.Config `mapstructure:"observe" yaml:"observe"`

	// Defaults fills zero fields of every resource and applies to names
	// without an entry.
	Defaults ResourceConfig `mapstructure:"defaults" yaml:"defaults"`

	// Resources holds per-dependency budgets keyed by resource name.
	Resources map[string]ResourceConfig `mapstructure:"resources" yaml:"resources" validate:"dive"`

	Dispatch DispatchConfig `mapstructure:"dispatch" yaml:"dispatch"`
	Batch    BatchConfig    `mapstructure:"batch" yaml:"batch"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
}

// ResourceConfig is the budget of one dependency. Either RatePerSecond or
// RequestsPerMinute sets the sustained rate.
type ResourceConfig struct {
	RatePerSecond     float64 `mapstructure:"rate_per_second" yaml:"rate_per_second" validate:"gte=0"`
	RequestsPerMinute int     `mapstructure:"requests_per_minute" yaml:"requests_per_minute" validate:"gte=0"`
	Burst             int     `mapstructure:"burst" yaml:"burst" validate:"gte=0"`
	DailyQuota        int     `mapstructure:"daily_quota" yaml:"daily_quota" validate:"gte=0"`

	MaxConcurrent int           `mapstructure:"max_concurrent" yaml:"max_concurrent" validate:"gte=0"`
	GateWait      time.Duration `mapstructure:"gate_wait" yaml:"gate_wait" validate:"gte=0"`

	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold" validate:"gte=0"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout" yaml:"recovery_timeout" validate:"gte=0"`
	HalfOpenProbes   int           `mapstructure:"half_open_probes" yaml:"half_open_probes" validate:"gte=0"`

	// MaxRetries is the number of retries after the first attempt. Unset
	// takes the default; zero disables retries.
	MaxRetries *int          `mapstructure:"max_retries" yaml:"max_retries" validate:"omitempty,gte=0"`
	BaseDelay  time.Duration `mapstructure:"base_delay" yaml:"base_delay" validate:"gte=0"`
	MaxDelay   time.Duration `mapstructure:"max_delay" yaml:"max_delay" validate:"gte=0"`
	Multiplier float64       `mapstructure:"multiplier" yaml:"multiplier" validate:"omitempty,gte=1"`

	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`
}

// DispatchConfig configures the tiered dispatcher.
type DispatchConfig struct {
	Workers int           `mapstructure:"workers" yaml:"workers" validate:"gte=0"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`

	// The degraded tier runs Workers/DegradedDivisor workers with
	// Timeout·DegradedTimeoutFactor; the isolated tier runs one worker with
	// Timeout·IsolatedTimeoutFactor.
	DegradedDivisor       int     `mapstructure:"degraded_divisor" yaml:"degraded_divisor" validate:"gte=0"`
	DegradedTimeoutFactor float64 `mapstructure:"degraded_timeout_factor" yaml:"degraded_timeout_factor" validate:"gte=0"`
	IsolatedTimeoutFactor float64 `mapstructure:"isolated_timeout_factor" yaml:"isolated_timeout_factor" validate:"gte=0"`
}

// BatchConfig configures the batch coordinator.
type BatchConfig struct {
	DefaultSize   int           `mapstructure:"default_size" yaml:"default_size" validate:"gte=0"`
	MinSize       int           `mapstructure:"min_size" yaml:"min_size" validate:"gte=0"`
	MaxSize       int           `mapstructure:"max_size" yaml:"max_size" validate:"gte=0"`
	MaxConcurrent int           `mapstructure:"max_concurrent" yaml:"max_concurrent" validate:"gte=0"`
	Delay         time.Duration `mapstructure:"delay" yaml:"delay" validate:"gte=0"`
	Namespace     string        `mapstructure:"namespace" yaml:"namespace"`
}

// CacheConfig selects the result cache backend.
type CacheConfig struct {
	Backend    string        `mapstructure:"backend" yaml:"backend" validate:"omitempty,oneof=none memory redis"`
	RedisURL   string        `mapstructure:"redis_url" yaml:"redis_url" validate:"required_if=Backend redis"`
	Prefix     string        `mapstructure:"prefix" yaml:"prefix"`
	DefaultTTL time.Duration `mapstructure:"default_ttl" yaml:"default_ttl" validate:"gte=0"`
	MaxTTL     time.Duration `mapstructure:"max_ttl" yaml:"max_ttl" validate:"gte=0"`
}

// ApplyDefaults fills unset fields. Built-in resources missing from
// Resources are added; present ones keep their values and inherit the rest.
func (c *Config) ApplyDefaults() {
	def := Default()

	if c.Observe.ServiceName == "" {
		c.Observe.ServiceName = def.Observe.ServiceName
	}
	if c.Observe.Logging.Level == "" {
		c.Observe.Logging.Level = def.Observe.Logging.Level
	}
	if c.Observe.Logging.Format == "" {
		c.Observe.Logging.Format = def.Observe.Logging.Format
	}

	c.Defaults = c.Defaults.merge(def.Defaults)

	if c.Resources == nil {
		c.Resources = make(map[string]ResourceConfig)
	}
	for name, builtin := range def.Resources {
		c.Resources[name] = c.Resources[name].merge(builtin)
	}

	c.Dispatch = c.Dispatch.merge(def.Dispatch)
	c.Batch = c.Batch.merge(def.Batch)

	if c.Cache.Backend == "" {
		c.Cache.Backend = def.Cache.Backend
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = def.Cache.Prefix
	}
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = def.Cache.DefaultTTL
	}
	if c.Cache.MaxTTL == 0 {
		c.Cache.MaxTTL = def.Cache.MaxTTL
	}
}

// Validate checks struct tags and the constraints that span fields.
func (c *Config) Validate() error {
	if err := validateStruct(c); err != nil {
		return err
	}

	for name, r := range c.Resources {
		if err := r.validate(); err != nil {
			return fmt.Errorf("%w: resources.%s: %w", ErrInvalid, name, err)
		}
	}
	if err := c.Defaults.validate(); err != nil {
		return fmt.Errorf("%w: defaults: %w", ErrInvalid, err)
	}

	if c.Batch.MinSize > 0 && c.Batch.MaxSize > 0 && c.Batch.MaxSize < c.Batch.MinSize {
		return fmt.Errorf("%w: batch.max_size %d is below batch.min_size %d", ErrInvalid, c.Batch.MaxSize, c.Batch.MinSize)
	}
	if c.Cache.MaxTTL > 0 && c.Cache.DefaultTTL > c.Cache.MaxTTL {
		return fmt.Errorf("%w: cache.default_ttl exceeds cache.max_ttl", ErrInvalid)
	}

	if err := c.Observe.Validate(); err != nil {
		return fmt.Errorf("%w: observe: %w", ErrInvalid, err)
	}
	return nil
}

func (r ResourceConfig) validate() error {
	if r.RatePerSecond > 0 && r.RequestsPerMinute > 0 {
		return errors.New("set rate_per_second or requests_per_minute, not both")
	}
	if r.BaseDelay > 0 && r.MaxDelay > 0 && r.MaxDelay < r.BaseDelay {
		return errors.New("max_delay is below base_delay")
	}
	return nil
}

// Rate returns the sustained rate in requests per second.
func (r ResourceConfig) Rate() float64 {
	if r.RatePerSecond > 0 {
		return r.RatePerSecond
	}
	return float64(r.RequestsPerMinute) / 60
}

// Budget converts r to a resilience budget. Zero fields are left for the
// registry to fill.
func (r ResourceConfig) Budget() resilience.Budget {
	retries := -1
	if r.MaxRetries != nil {
		retries = *r.MaxRetries
	}
	return resilience.Budget{
		RatePerSecond:    r.Rate(),
		Burst:            r.Burst,
		DailyQuota:       r.DailyQuota,
		MaxConcurrent:    r.MaxConcurrent,
		GateWait:         r.GateWait,
		FailureThreshold: r.FailureThreshold,
		RecoveryTimeout:  r.RecoveryTimeout,
		HalfOpenProbes:   r.HalfOpenProbes,
		MaxRetries:       retries,
		BaseDelay:        r.BaseDelay,
		MaxDelay:         r.MaxDelay,
		Multiplier:       r.Multiplier,
		Timeout:          r.Timeout,
	}
}

// merge fills zero fields of r from def. A rate set in either form counts
// as set.
func (r ResourceConfig) merge(def ResourceConfig) ResourceConfig {
	if r.RatePerSecond == 0 && r.RequestsPerMinute == 0 {
		r.RatePerSecond = def.RatePerSecond
		r.RequestsPerMinute = def.RequestsPerMinute
	}
	if r.Burst == 0 {
		r.Burst = def.Burst
	}
	if r.DailyQuota == 0 {
		r.DailyQuota = def.DailyQuota
	}
	if r.MaxConcurrent == 0 {
		r.MaxConcurrent = def.MaxConcurrent
	}
	if r.GateWait == 0 {
		r.GateWait = def.GateWait
	}
	if r.FailureThreshold == 0 {
		r.FailureThreshold = def.FailureThreshold
	}
	if r.RecoveryTimeout == 0 {
		r.RecoveryTimeout = def.RecoveryTimeout
	}
	if r.HalfOpenProbes == 0 {
		r.HalfOpenProbes = def.HalfOpenProbes
	}
	if r.MaxRetries == nil {
		r.MaxRetries = def.MaxRetries
	}
	if r.BaseDelay == 0 {
		r.BaseDelay = def.BaseDelay
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = def.MaxDelay
	}
	if r.Multiplier == 0 {
		r.Multiplier = def.Multiplier
	}
	if r.Timeout == 0 {
		r.Timeout = def.Timeout
	}
	return r
}

func (d DispatchConfig) merge(def DispatchConfig) DispatchConfig {
	if d.Workers == 0 {
		d.Workers = def.Workers
	}
	if d.Timeout == 0 {
		d.Timeout = def.Timeout
	}
	if d.DegradedDivisor == 0 {
		d.DegradedDivisor = def.DegradedDivisor
	}
	if d.DegradedTimeoutFactor == 0 {
		d.DegradedTimeoutFactor = def.DegradedTimeoutFactor
	}
	if d.IsolatedTimeoutFactor == 0 {
		d.IsolatedTimeoutFactor = def.IsolatedTimeoutFactor
	}
	return d
}

func (b BatchConfig) merge(def BatchConfig) BatchConfig {
	if b.DefaultSize == 0 {
		b.DefaultSize = def.DefaultSize
	}
	if b.MinSize == 0 {
		b.MinSize = def.MinSize
	}
	if b.MaxSize == 0 {
		b.MaxSize = def.MaxSize
	}
	if b.MaxConcurrent == 0 {
		b.MaxConcurrent = def.MaxConcurrent
	}
	if b.Delay == 0 {
		b.Delay = def.Delay
	}
	return b
}

// RegistryConfig builds the resilience registry configuration.
func (c *Config) RegistryConfig(logger observe.Logger, metrics observe.Metrics) resilience.RegistryConfig {
	budgets := make(map[string]resilience.Budget, len(c.Resources))
	for name, r := range c.Resources {
		budgets[name] = r.merge(c.Defaults).Budget()
	}

	var def resilience.Budget
	if c.Defaults != (ResourceConfig{}) {
		def = c.Defaults.Budget()
	}

	return resilience.RegistryConfig{
		Budgets: budgets,
		Default: def,
		Logger:  logger,
		Metrics: metrics,
	}
}

// DispatchConfig builds a dispatcher configuration for resource.
func (c *Config) DispatchConfig(resource string) dispatch.Config {
	d := c.Dispatch
	return dispatch.Config{
		Resource: resource,
		Workers:  d.Workers,
		Timeout:  d.Timeout,
		Tiers: dispatch.ScaledTiers(d.Workers, d.Timeout,
			d.DegradedDivisor, d.DegradedTimeoutFactor, d.IsolatedTimeoutFactor),
	}
}

// BatchConfig builds the coordinator configuration.
func (c *Config) BatchConfig() batch.Config {
	return batch.Config{
		DefaultBatchSize:     c.Batch.DefaultSize,
		MinBatchSize:         c.Batch.MinSize,
		MaxBatchSize:         c.Batch.MaxSize,
		MaxConcurrentBatches: c.Batch.MaxConcurrent,
		BatchDelay:           c.Batch.Delay,
		Namespace:            c.Batch.Namespace,
	}
}

// CachePolicy returns the TTL policy. The none backend disables caching.
func (c *Config) CachePolicy() cache.Policy {
	if c.Cache.Backend == CacheNone {
		return cache.NoCachePolicy()
	}
	return cache.Policy{DefaultTTL: c.Cache.DefaultTTL, MaxTTL: c.Cache.MaxTTL}
}

// BuildCache creates the configured backend. It returns nil for the none
// backend. A Redis backend is pinged before it is returned.
func (c *Config) BuildCache(ctx context.Context) (cache.Cache, error) {
	switch c.Cache.Backend {
	case CacheNone:
		return nil, nil
	case CacheMemory, "":
		return cache.NewMemoryCache(), nil
	case CacheRedis:
		rc, err := cache.NewRedisCacheFromURL(c.Cache.RedisURL, c.Cache.Prefix)
		if err != nil {
			return nil, err
		}
		if err := rc.Ping(ctx); err != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("config: redis cache unreachable: %w", err)
		}
		return rc, nil
	default:
		return nil, fmt.Errorf("%w: unknown cache backend %q", ErrInvalid, c.Cache.Backend)
	}
}
