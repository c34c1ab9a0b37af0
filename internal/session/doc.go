// Package session keeps installations from overlapping.
//
// Guard rejects a second operation inside one process; Marker does the same
// across processes sharing a data directory.
package session
