package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestString(t *testing.T) {
	origNumber, origCommit, origDate := Number, Commit, Date
	t.Cleanup(func() { Number, Commit, Date = origNumber, origCommit, origDate })

	Number, Commit, Date = "1.2.3", "", ""
	require.Equal(t, "1.2.3", String())

	Commit = "abc1234"
	require.Equal(t, "1.2.3+abc1234", String())

	Date = "2026-08-31"
	require.Equal(t, "1.2.3+abc1234 (built 2026-08-31)", String())
}
