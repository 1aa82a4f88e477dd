package cmd

import (
	"fmt"
	"github.com/Gibstick/pin-archive-3/pinarchive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := pinarchive.Version
	originalCommitSHA := pinarchive.CommitSHA
	originalBuildTime := pinarchive.BuildTime

	t.Cleanup(
		func() {
			pinarchive.Version = originalVersion
			pinarchive.CommitSHA = originalCommitSHA
			pinarchive.BuildTime = originalBuildTime
		},
	)

	pinarchive.Version = "1.0.0"
	pinarchive.CommitSHA = "abc123"
	pinarchive.BuildTime = "2023-10-01T12:00:00Z"

	out := captureOutput(t)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())

	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		pinarchive.Version,
		pinarchive.CommitSHA,
		pinarchive.BuildTime,
	)
	assert.Equal(t, expected, out.String())
}
