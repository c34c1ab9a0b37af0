// Package setup implements init-config.
//
// It writes a settings file with defaults derived from the data directory and
// reports which bundled assets still have to be copied next to it.
package setup
