// Package client runs installer operations for the boot-installer commands.
//
// An operation runs in process with live console output, or is sent to a
// running daemon whose console is printed once it finishes.
package client
