// Package validation checks configuration structs before any engine is
// built from them.
//
// Struct tags cover single fields:
//
//	type Config struct {
//	    Dataroot string `mapstructure:"dataroot" validate:"required"`
//	    Mailbox  string `mapstructure:"mailbox" validate:"oneof=file redis"`
//	}
//	err := validation.Struct(cfg)
//
// Rules spanning several fields use a Validator:
//
//	v := validation.New()
//	v.Custom(!useRedis || cfg.Redis.Enabled, "redis.enabled", "must be set for the redis mailbox")
//	err := v.Err()
//
// Both report an INVALID_CONFIG *errors.AppError whose details list every
// failing field under its mapstructure name.
package validation
