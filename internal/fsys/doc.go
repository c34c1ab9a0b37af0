// Package fsys abstracts file access for paths that may need elevated
// privilege, such as block devices and a workspace moved to a root-owned tmpfs.
package fsys
