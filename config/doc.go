// Package config loads harness configuration from a YAML file, a .env file
// and environment variables using Viper.
//
// # Usage
//
//	var cfg harness.Config
//	err := config.LoadConfig("resetkit", &cfg, config.WithConfigFile("resetkit.yml"))
//
// Environment variables carrying the upper-cased name as prefix override file
// values; underscores may stand for nesting (RESETKIT_DATABASE_DSN sets
// database.dsn) or be part of a key (RESETKIT_SEQUENCE_START sets
// sequence_start).
package config
