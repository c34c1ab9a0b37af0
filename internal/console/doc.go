// Package console implements the user-facing progress log of an installation.
//
// Lines are kept in order and mirrored to zap: lines starting with "!" are
// logged at error level, everything else at info level.
package console
