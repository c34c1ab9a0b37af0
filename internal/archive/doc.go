// Package archive implements the streaming rewrite of firmware tar files.
//
// Members are visited once, in order. Boot and recovery images are staged
// into the workspace (lz4 and xz members are decompressed on the way), vbmeta
// gets verification disabled and is written back as a new member, and every
// other member is copied with its original header. Nothing but vbmeta is held
// in memory.
package archive
