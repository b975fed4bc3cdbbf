package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/resilience/internal/circuitbreaker"
	"github.com/angeloszaimis/resilience/internal/dedupe"
	"github.com/angeloszaimis/resilience/internal/httpserver"
	"github.com/angeloszaimis/resilience/internal/retry"
	"github.com/angeloszaimis/resilience/internal/upstream"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// EnvPrefix namespaces environment overrides: RESILIENCE_SERVER_ADDRESS
// overrides server.address.
const EnvPrefix = "RESILIENCE"

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	Environment     string        `mapstructure:"environment"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	FanOut          int           `mapstructure:"fan_out"`
}

type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	AddSource bool   `mapstructure:"add_source"`
}

type RetryConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
	Jitter        bool          `mapstructure:"jitter"`
}

type BreakerSettings struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

type BreakerConfig struct {
	BreakerSettings `mapstructure:",squash"`
	Overrides       map[string]BreakerSettings `mapstructure:"overrides"`
}

type DedupeConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	MaxSize       int           `mapstructure:"max_size"`
	CacheFailures bool          `mapstructure:"cache_failures"`
}

type HealthCheckConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type MetricsConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	OTLPEndpoint   string        `mapstructure:"otlp_endpoint"`
	ExportInterval time.Duration `mapstructure:"export_interval"`
}

type UpstreamConfig struct {
	Name       string        `mapstructure:"name"`
	URLs       []string      `mapstructure:"urls"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Strategy   string        `mapstructure:"strategy"`
	Path       string        `mapstructure:"path"`
	HealthPath string        `mapstructure:"health_path"`
}

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Breaker     BreakerConfig     `mapstructure:"breaker"`
	Dedupe      DedupeConfig      `mapstructure:"dedupe"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Upstreams   []UpstreamConfig  `mapstructure:"upstreams"`
}

// ErrNoUpstreams is returned when no upstream source is configured.
var ErrNoUpstreams = errors.New("at least one upstream is required")

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", httpserver.DefaultReadTimeout)
	v.SetDefault("server.write_timeout", httpserver.DefaultWriteTimeout)
	v.SetDefault("server.idle_timeout", httpserver.DefaultIdleTimeout)
	v.SetDefault("server.shutdown_timeout", httpserver.DefaultShutdownTimeout)
	v.SetDefault("server.fan_out", 8)

	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("logging.add_source", false)

	v.SetDefault("retry.max_retries", retry.DefaultMaxRetries)
	v.SetDefault("retry.base_delay", retry.DefaultBaseDelay)
	v.SetDefault("retry.max_delay", retry.DefaultMaxDelay)
	v.SetDefault("retry.backoff_factor", retry.DefaultBackoffFactor)
	v.SetDefault("retry.jitter", true)

	v.SetDefault("breaker.failure_threshold", circuitbreaker.DefaultFailureThreshold)
	v.SetDefault("breaker.success_threshold", circuitbreaker.DefaultSuccessThreshold)
	v.SetDefault("breaker.reset_timeout", circuitbreaker.DefaultResetTimeout)

	v.SetDefault("dedupe.ttl", dedupe.DefaultTTL)
	v.SetDefault("dedupe.max_size", dedupe.DefaultMaxSize)
	v.SetDefault("dedupe.cache_failures", true)

	v.SetDefault("health_check.interval", "10s")
	v.SetDefault("health_check.timeout", "2s")

	v.SetDefault("metrics.buffer_size", 1000)
	v.SetDefault("metrics.export_interval", "15s")
}

// Load reads configuration from defaults, then the YAML file, then the
// environment. An empty path searches ./config and . for config.yaml; a
// missing file is only an error when path is explicit.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		slog.Warn("Config file not found, using defaults and environment variables")
	} else {
		slog.Info("Loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server, validation.By(func(value any) error {
			sc, ok := value.(ServerConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a ServerConfig")
			}
			return validation.ValidateStruct(&sc,
				validation.Field(&sc.Environment,
					validation.Required,
					validation.In(EnvDev, EnvStaging, EnvProd),
				),
				validation.Field(&sc.Address,
					validation.Required,
					validation.By(httpserver.ValidateAddr),
				),
				validation.Field(&sc.ReadTimeout, validation.Min(time.Duration(0))),
				validation.Field(&sc.WriteTimeout, validation.Min(time.Duration(0))),
				validation.Field(&sc.IdleTimeout, validation.Min(time.Duration(0))),
				validation.Field(&sc.ShutdownTimeout, validation.Min(time.Duration(0))),
				validation.Field(&sc.FanOut, validation.Min(0)),
			)
		})),
		validation.Field(&c.Logging, validation.By(func(value any) error {
			lc, ok := value.(LoggingConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
			}
			return validation.ValidateStruct(&lc,
				validation.Field(&lc.Level,
					validation.Required,
					validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
				),
			)
		})),
		validation.Field(&c.Retry, validation.By(func(value any) error {
			rc, ok := value.(RetryConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a RetryConfig")
			}
			return validation.ValidateStruct(&rc,
				validation.Field(&rc.MaxRetries, validation.Min(0)),
				validation.Field(&rc.BaseDelay, validation.Min(time.Duration(0))),
				validation.Field(&rc.MaxDelay, validation.Min(rc.BaseDelay)),
				validation.Field(&rc.BackoffFactor, validation.Min(1.0)),
			)
		})),
		validation.Field(&c.Breaker, validation.By(func(value any) error {
			bc, ok := value.(BreakerConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a BreakerConfig")
			}
			if err := validateBreakerSettings(bc.BreakerSettings); err != nil {
				return err
			}
			errs := validation.Errors{}
			for name, o := range bc.Overrides {
				if err := validateBreakerSettings(o); err != nil {
					errs["overrides."+name] = err
				}
			}
			return errs.Filter()
		})),
		validation.Field(&c.Dedupe, validation.By(func(value any) error {
			dc, ok := value.(DedupeConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a DedupeConfig")
			}
			return validation.ValidateStruct(&dc,
				validation.Field(&dc.TTL, validation.Min(time.Duration(0))),
				validation.Field(&dc.MaxSize, validation.Min(0)),
			)
		})),
		validation.Field(&c.HealthCheck, validation.By(func(value any) error {
			hc, ok := value.(HealthCheckConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
			}
			return validation.ValidateStruct(&hc,
				validation.Field(&hc.Interval, validation.Required, validation.Min(10*time.Millisecond)),
				validation.Field(&hc.Timeout, validation.Required, validation.Min(time.Millisecond)),
			)
		})),
		validation.Field(&c.Metrics, validation.By(func(value any) error {
			mc, ok := value.(MetricsConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
			}
			return validation.ValidateStruct(&mc,
				validation.Field(&mc.BufferSize, validation.Required, validation.Min(1)),
				validation.Field(&mc.OTLPEndpoint, validation.By(validateEndpoint)),
				validation.Field(&mc.ExportInterval, validation.Min(time.Duration(0))),
			)
		})),
		validation.Field(&c.Upstreams,
			validation.Required.ErrorObject(validation.NewError("validation_no_upstreams", ErrNoUpstreams.Error())),
			validation.Each(validation.By(validateUpstream)),
			validation.By(uniqueNames),
		),
	)
}

func validateBreakerSettings(s BreakerSettings) error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.FailureThreshold, validation.Min(0)),
		validation.Field(&s.SuccessThreshold, validation.Min(0)),
		validation.Field(&s.ResetTimeout, validation.Min(time.Duration(0))),
	)
}

// validateEndpoint accepts an empty value or a host:port collector address.
func validateEndpoint(value any) error {
	endpoint, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if endpoint == "" {
		return nil
	}
	return httpserver.ValidateAddr(endpoint)
}

func validateUpstream(value any) error {
	uc, ok := value.(UpstreamConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be an UpstreamConfig")
	}

	return validation.ValidateStruct(&uc,
		validation.Field(&uc.Name, validation.Required, is.PrintableASCII),
		validation.Field(&uc.URLs,
			validation.Required,
			validation.Each(validation.By(validateServerURL)),
		),
		validation.Field(&uc.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&uc.Strategy, validation.In(strategies()...)),
	)
}

func strategies() []any {
	names := make([]any, len(upstream.Strategies))
	for i, s := range upstream.Strategies {
		names[i] = s
	}
	return names
}

func uniqueNames(value any) error {
	upstreams, ok := value.([]UpstreamConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a list of upstreams")
	}

	seen := make(map[string]bool, len(upstreams))
	for _, u := range upstreams {
		if seen[u.Name] {
			return validation.NewError("validation_duplicate_upstream", "duplicate upstream "+u.Name)
		}
		seen[u.Name] = true
	}
	return nil
}

func validateServerURL(value any) error {
	serverURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if serverURL == "" {
		return validation.NewError("validation_empty_url", "URL cannot be empty")
	}

	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}
