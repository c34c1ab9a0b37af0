package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestVersionStrings ensures Short and Full return non-empty consistent information.
func TestVersionStrings(t *testing.T) {
	t.Parallel()

	require.NotEmpty(t, Short())
	require.Contains(t, Full(), Short())
	require.Contains(t, Full(), Code)
}

// TestBuildCode checks the default build code parses as a positive number.
func TestBuildCode(t *testing.T) {
	t.Parallel()

	require.Positive(t, BuildCode())
}
