package version

import (
	"fmt"
	"strconv"
)

var (
	// Version is the semantic version of the build. It can be overridden via ldflags.
	Version = "1.0.0"
	// Code is the monotonically increasing build number stamped into output file names.
	Code = "10000"
	// Commit is the short git SHA embedded at build time (or "none").
	Commit = "none"
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = "unknown"
)

// Short returns only the semantic version string.
func Short() string {
	return Version
}

// BuildCode returns Code as a number, or 0 if the injected value is not numeric.
func BuildCode() int {
	code, err := strconv.Atoi(Code)
	if err != nil {
		return 0
	}

	return code
}

// Full returns a human-readable version string with build code, commit and build time.
func Full() string {
	return fmt.Sprintf("version: %s (%s), commit: %s, built at: %s", Version, Code, Commit, BuildTime)
}
