// Package version exposes build metadata for the installer.
//
// Variables Version, Code, Commit, and BuildTime are injected at build time via
// Go ldflags. Code is also stamped into the names of patched output files.
package version
