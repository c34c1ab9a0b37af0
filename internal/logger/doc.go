// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a console encoder on stderr,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level configuration and parsing utilities,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// Installer steps accept a context and extract the logger from it, so the
// session id attached at the start of an operation shows up on every line.
package logger
