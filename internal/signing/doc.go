// Package signing wraps the external tool that verifies and produces AVB 1.0
// boot image signatures.
package signing
