// Package version identifies code: the harness build itself (Build), the
// codebase under test (Release, GitHead) and the fingerprint over the
// codebase's version markers that invalidates stale snapshots
// (Fingerprinter).
//
// Harness build values are set at compile time via -ldflags:
//
//	go build -ldflags "-X github.com/kbukum/resetkit/version.Version=1.0.0"
package version
