package cache

import "time"

// RedisOption configures Redis cache.
type RedisOption func(*RedisConfig)

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	PoolTimeout  time.Duration
	MinIdleConns int
	Prefix       string
}

// WithRedisAddr sets the host:port address.
func WithRedisAddr(addr string) RedisOption {
	return func(c *RedisConfig) {
		c.Addr = addr
	}
}

// WithRedisPassword sets Redis password.
func WithRedisPassword(password string) RedisOption {
	return func(c *RedisConfig) {
		c.Password = password
	}
}

// WithRedisDB sets Redis database number.
func WithRedisDB(db int) RedisOption {
	return func(c *RedisConfig) {
		c.DB = db
	}
}

// WithRedisPool sets connection pool settings.
func WithRedisPool(poolSize, minIdleConns int, timeout time.Duration) RedisOption {
	return func(c *RedisConfig) {
		c.PoolSize = poolSize
		c.MinIdleConns = minIdleConns
		c.PoolTimeout = timeout
	}
}

// WithRedisPrefix sets key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) {
		c.Prefix = prefix
	}
}

// MemoryOption configures MemoryStore.
type MemoryOption func(*MemoryConfig)

// MemoryConfig holds memory store configuration.
type MemoryConfig struct {
	MaxSize    int
	DefaultTTL time.Duration
	StaleGrace time.Duration
	Clock      func() time.Time
}

// WithMemoryMaxSize sets max entry count; 0 disables the bound.
func WithMemoryMaxSize(size int) MemoryOption {
	return func(c *MemoryConfig) {
		c.MaxSize = size
	}
}

// WithDefaultTTL sets the TTL used when Set is called with ttl <= 0.
func WithDefaultTTL(ttl time.Duration) MemoryOption {
	return func(c *MemoryConfig) {
		c.DefaultTTL = ttl
	}
}

// WithStaleGrace sets how long expired entries stay readable as Stale.
func WithStaleGrace(grace time.Duration) MemoryOption {
	return func(c *MemoryConfig) {
		if grace >= 0 {
			c.StaleGrace = grace
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryConfig) {
		c.Clock = now
	}
}

// LayeredOption configures LayeredStore.
type LayeredOption func(*LayeredConfig)

// LayeredConfig holds layered store configuration.
type LayeredConfig struct {
	L2Timeout time.Duration
	KeyPrefix string
}

// WithL2Timeout bounds each Redis round trip.
func WithL2Timeout(d time.Duration) LayeredOption {
	return func(c *LayeredConfig) {
		if d > 0 {
			c.L2Timeout = d
		}
	}
}

// WithL2KeyPrefix namespaces L2 keys.
func WithL2KeyPrefix(prefix string) LayeredOption {
	return func(c *LayeredConfig) {
		c.KeyPrefix = prefix
	}
}
