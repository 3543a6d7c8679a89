package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphadevx/alpha-sub000/internal/config"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	st, err := Open(ctx, config.Backup{Driver: "memory"})
	require.NoError(t, err)
	require.Equal(t, DriverMemory, st.Driver())

	st, err = Open(ctx, config.Backup{FSRoot: t.TempDir()})
	require.NoError(t, err)
	require.Equal(t, DriverFilesystem, st.Driver())

	_, err = Open(ctx, config.Backup{Driver: "ftp"})
	require.Error(t, err)
}
