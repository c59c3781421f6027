package redis

import (
	"time"

	"github.com/kbukum/resetkit/validation"
)

// Config describes the shared Redis instance that carries the dirty-table
// mailbox and the cache keyspace when several processes drive one site.
type Config struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// KeyPrefix namespaces every key of one test site, so several sites
	// can share a server.
	KeyPrefix string `mapstructure:"key_prefix"`

	PoolSize int `mapstructure:"pool_size"`

	// Timeouts are duration strings such as "3s".
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "resetkit:"
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.DialTimeout == "" {
		c.DialTimeout = "5s"
	}
	if c.ReadTimeout == "" {
		c.ReadTimeout = "3s"
	}
	if c.WriteTimeout == "" {
		c.WriteTimeout = "3s"
	}
}

// Validate checks an enabled configuration. A disabled one is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	v := validation.New()
	v.Required("addr", c.Addr).
		Min("pool_size", int64(c.PoolSize), 1).
		Min("db", int64(c.DB), 0).
		Duration("dial_timeout", c.DialTimeout).
		Duration("read_timeout", c.ReadTimeout).
		Duration("write_timeout", c.WriteTimeout)
	return v.Err()
}

// Timeouts returns the parsed dial, read and write timeouts. Call it on a
// validated configuration; unparseable values come back as zero.
func (c *Config) Timeouts() (dial, read, write time.Duration) {
	dial, _ = time.ParseDuration(c.DialTimeout)
	read, _ = time.ParseDuration(c.ReadTimeout)
	write, _ = time.ParseDuration(c.WriteTimeout)
	return dial, read, write
}
