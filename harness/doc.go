// Package harness ties the engines of a test installation together into a
// Session: one database connection, one dataroot, one snapshot and the
// reset state that lives for a single test run.
//
//	var cfg harness.Config
//	if err := harness.LoadConfig(&cfg); err != nil { ... }
//	s, err := harness.Open(ctx, cfg, log)
//	defer s.Close(ctx)
//
//	if err := s.Init(ctx, installer); err != nil { ... } // once per codebase version
//	report, err := s.Reset(ctx)                         // between tests
//
// Init, Reset and Drop refuse to run against a database or dataroot that
// was not created by Init.
package harness
