package machineid_test

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/promotrack/rlz/machineid"
	"github.com/promotrack/rlz/testutil"
)

func TestGeneratedStable(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	provider := machineid.Generated{FS: fs, Path: "/config/rlz/machine-id"}

	first, err := provider.MachineID(testutil.Context(t, testutil.WaitShort))
	require.NoError(t, err)
	require.Regexp(t, `^[0-9A-F]{32}$`, first)

	second, err := provider.MachineID(testutil.Context(t, testutil.WaitShort))
	require.NoError(t, err)
	require.Equal(t, first, second, "identity must survive across calls")

	// A second provider reading the same file reports the same identity.
	other := machineid.Generated{FS: fs, Path: "/config/rlz/machine-id"}
	third, err := other.MachineID(testutil.Context(t, testutil.WaitShort))
	require.NoError(t, err)
	require.Equal(t, first, third)
}

func TestGeneratedReplacesCorruptFile(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	path := "/config/rlz/machine-id"
	require.NoError(t, afero.WriteFile(fs, path, []byte("not a uuid"), 0o600))

	provider := machineid.Generated{FS: fs, Path: path}
	id, err := provider.MachineID(testutil.Context(t, testutil.WaitShort))
	require.NoError(t, err)
	require.Regexp(t, `^[0-9A-F]{32}$`, id)

	// The replacement is persisted.
	again, err := provider.MachineID(testutil.Context(t, testutil.WaitShort))
	require.NoError(t, err)
	require.Equal(t, id, again)
}

func TestGeneratedDistinctPaths(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	a, err := machineid.Generated{FS: fs, Path: "/a/machine-id"}.MachineID(testutil.Context(t, testutil.WaitShort))
	require.NoError(t, err)
	b, err := machineid.Generated{FS: fs, Path: "/b/machine-id"}.MachineID(testutil.Context(t, testutil.WaitShort))
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
