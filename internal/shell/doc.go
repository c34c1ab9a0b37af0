// Package shell runs commands in the privileged shell.
//
// A job is a list of command lines written to the shell's stdin after the
// configured init commands, so helpers sourced by init are visible to every
// command. Stdout is returned line by line and echoed to the console carried
// by the context; stderr only reaches the debug log.
package shell
