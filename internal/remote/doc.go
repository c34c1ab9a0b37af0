// Package remote downloads the bootctl helper used after an alternate-slot
// installation.
package remote
