// Package logger provides structured logging for the reset harness using
// zerolog.
//
// Engines receive a *Logger and tag it with their component name, so every
// line carries "component" plus the table, phase or path it concerns.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "console"
//
// # Usage
//
//	log := logger.New(&cfg.Logging, "resetkit").WithComponent("dbreset")
//	log.Info("table restored", logger.Fields(logger.FieldTable, "user"))
package logger
