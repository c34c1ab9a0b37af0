// Package storage writes installer outputs to a local directory or an S3
// bucket. Every Artifact can be deleted after a failed write, so a truncated
// image never stays at the destination.
package storage
