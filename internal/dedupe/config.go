package dedupe

import "time"

const (
	DefaultTTL     = 5 * time.Second
	DefaultMaxSize = 1000
)

type Config struct {
	// TTL is measured from the moment the entry is created, not from when the
	// operation completes.
	TTL time.Duration `json:"ttl"`
	// MaxSize bounds the number of entries kept once cleanup runs.
	MaxSize int `json:"max_size"`
	// CacheFailures keeps failed outcomes for the TTL like successful ones.
	// When false a failed entry is dropped as soon as the operation returns.
	CacheFailures bool `json:"cache_failures"`
}

func DefaultConfig() Config {
	return Config{
		TTL:           DefaultTTL,
		MaxSize:       DefaultMaxSize,
		CacheFailures: true,
	}
}

func (c Config) normalize() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	return c
}
