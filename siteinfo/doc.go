// Package siteinfo reports the environment a test run executes in: the
// release and checkout of the codebase under test, the Go toolchain, the
// database server and the operating system. It only reads.
package siteinfo
