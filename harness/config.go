package harness

import (
	"os"

	"github.com/kbukum/resetkit/config"
	"github.com/kbukum/resetkit/database"
	"github.com/kbukum/resetkit/logger"
	"github.com/kbukum/resetkit/observability"
	"github.com/kbukum/resetkit/redis"
	"github.com/kbukum/resetkit/sequence"
	"github.com/kbukum/resetkit/validation"
	"github.com/kbukum/resetkit/version"
)

// Mailbox kinds.
const (
	MailboxFile  = "file"
	MailboxRedis = "redis"
)

// DefaultFramework names the framework directory and marker files.
const DefaultFramework = "phpunit"

// Config is the complete harness configuration.
type Config struct {
	// Framework prefixes the dataroot marker, the framework directory and
	// the fingerprint config key.
	Framework string `mapstructure:"framework" validate:"required,excludesall=/\\"`

	// Product is the name printed by SiteInfo.
	Product string `mapstructure:"product"`

	// Dataroot is the file store of the test installation.
	Dataroot string `mapstructure:"dataroot" validate:"required"`

	// SourceRoot is the root of the codebase under test.
	SourceRoot string `mapstructure:"source_root" validate:"required"`

	// VersionMarker is the file name hashed into the fingerprint.
	VersionMarker string `mapstructure:"version_marker"`

	// SequenceStart is the lowest id handed out after a reset.
	SequenceStart int64 `mapstructure:"sequence_start" validate:"gt=0"`

	// SequenceBlock is the id distance between consecutive tables.
	SequenceBlock int64 `mapstructure:"sequence_block" validate:"gt=0"`

	// ScenarioRunning marks the process that writes on behalf of a test
	// runner in another process; its writes are posted to the mailbox.
	ScenarioRunning bool `mapstructure:"scenario_running"`

	// Mailbox selects how dirty tables cross process boundaries.
	Mailbox string `mapstructure:"mailbox" validate:"oneof=file redis"`

	// DirPermissions is the mode of directories the harness creates.
	DirPermissions os.FileMode `mapstructure:"dir_permissions"`

	// SkipOnReset lists extra dataroot entries a reset keeps.
	SkipOnReset []string `mapstructure:"skip_on_reset"`

	// SkipOnDrop replaces the framework directory entries a drop keeps.
	SkipOnDrop []string `mapstructure:"skip_on_drop"`

	// CachePrefix is the Redis keyspace of the cache store.
	CachePrefix string `mapstructure:"cache_prefix"`

	Database      database.Config      `mapstructure:"database"`
	Redis         redis.Config         `mapstructure:"redis"`
	Logging       logger.Config        `mapstructure:"logging"`
	Observability observability.Config `mapstructure:"observability"`
}

// ApplyDefaults fills zero-valued fields, nested sections included.
func (c *Config) ApplyDefaults() {
	if c.Framework == "" {
		c.Framework = DefaultFramework
	}
	if c.VersionMarker == "" {
		c.VersionMarker = version.DefaultMarker
	}
	if c.SequenceStart <= 0 {
		c.SequenceStart = sequence.DefaultStart
	}
	if c.SequenceBlock <= 0 {
		c.SequenceBlock = sequence.DefaultBlock
	}
	if c.Mailbox == "" {
		c.Mailbox = MailboxFile
	}
	if c.DirPermissions == 0 {
		c.DirPermissions = 0o777
	}
	c.Database.ApplyDefaults()
	c.Redis.ApplyDefaults()
	c.Logging.ApplyDefaults()
	c.Observability.ApplyDefaults()
}

// Validate checks the configuration, nested sections included. Redis is
// only validated when enabled.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}
	v := validation.New()
	v.Nested("database", c.Database.Validate()).
		Nested("logging", c.Logging.Validate()).
		Nested("observability", c.Observability.Validate()).
		Custom(c.Mailbox != MailboxRedis || c.Redis.Enabled, "redis.enabled", "must be true for the redis mailbox")
	if c.Redis.Enabled {
		v.Nested("redis", c.Redis.Validate())
	}
	return v.Err()
}

// Logger builds the logger described by the logging section, named after
// the product.
func (c Config) Logger() *logger.Logger {
	name := c.Product
	if name == "" {
		name = "resetkit"
	}
	return logger.New(&c.Logging, name)
}

// LoadConfig reads resetkit.yml, .env and RESETKIT_* variables into cfg,
// then applies defaults and validates. config.WithEnvPrefix switches the
// variable prefix, e.g. BEHAT_* for a Behat runner.
func LoadConfig(cfg *Config, opts ...config.LoaderOption) error {
	if err := config.LoadConfig("resetkit", cfg, opts...); err != nil {
		return err
	}
	cfg.ApplyDefaults()
	return cfg.Validate()
}
