// Package common holds helpers shared by the CLI and the daemon.
//
// It provides a gRPC client for the installer daemon with call timeouts, the
// wiring that builds an installer from settings, and detection of the current
// user for daemon logs.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
