//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDetectActor ensures hostname and username are detected and non-empty.
func TestDetectActor(t *testing.T) {
	t.Parallel()

	a, err := DetectActor()
	require.NoError(t, err)

	user, host, ok := strings.Cut(a, "@")
	require.True(t, ok)
	require.NotEmpty(t, user)
	require.NotEmpty(t, host)
}
