package config

import (
	"github.com/angeloszaimis/resilience/internal/circuitbreaker"
	"github.com/angeloszaimis/resilience/internal/dedupe"
	"github.com/angeloszaimis/resilience/internal/httpserver"
	"github.com/angeloszaimis/resilience/internal/retry"
	"github.com/angeloszaimis/resilience/internal/upstream"
)

func (s ServerConfig) Timeouts() httpserver.Timeouts {
	return httpserver.Timeouts{
		Read:     s.ReadTimeout,
		Write:    s.WriteTimeout,
		Idle:     s.IdleTimeout,
		Shutdown: s.ShutdownTimeout,
	}
}

func (r RetryConfig) Options() []retry.Option {
	return []retry.Option{
		retry.WithMaxRetries(r.MaxRetries),
		retry.WithBaseDelay(r.BaseDelay),
		retry.WithMaxDelay(r.MaxDelay),
		retry.WithBackoffFactor(r.BackoffFactor),
		retry.WithJitter(r.Jitter),
	}
}

func (b BreakerSettings) Breaker() circuitbreaker.Config {
	return circuitbreaker.Config{
		FailureThreshold: b.FailureThreshold,
		SuccessThreshold: b.SuccessThreshold,
		ResetTimeout:     b.ResetTimeout,
	}
}

// BreakerOverrides returns the per-name breaker configs. Unset fields of an
// override inherit the breaker defaults.
func (b BreakerConfig) BreakerOverrides() map[string]circuitbreaker.Config {
	overrides := make(map[string]circuitbreaker.Config, len(b.Overrides))
	for name, o := range b.Overrides {
		if o.FailureThreshold == 0 {
			o.FailureThreshold = b.FailureThreshold
		}
		if o.SuccessThreshold == 0 {
			o.SuccessThreshold = b.SuccessThreshold
		}
		if o.ResetTimeout == 0 {
			o.ResetTimeout = b.ResetTimeout
		}
		overrides[name] = o.Breaker()
	}
	return overrides
}

func (d DedupeConfig) Dedupe() dedupe.Config {
	return dedupe.Config{
		TTL:           d.TTL,
		MaxSize:       d.MaxSize,
		CacheFailures: d.CacheFailures,
	}
}

func (u UpstreamConfig) Upstream() upstream.Config {
	return upstream.Config{
		Name:       u.Name,
		URLs:       u.URLs,
		Timeout:    u.Timeout,
		Strategy:   u.Strategy,
		Path:       u.Path,
		HealthPath: u.HealthPath,
	}
}

func (c *Config) UpstreamConfigs() []upstream.Config {
	configs := make([]upstream.Config, len(c.Upstreams))
	for i, u := range c.Upstreams {
		configs[i] = u.Upstream()
	}
	return configs
}
