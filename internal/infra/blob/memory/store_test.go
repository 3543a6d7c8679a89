package memory

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphadevx/alpha-sub000/internal/blob/core"
)

func TestPutGetListDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.Equal(t, core.DriverMemory, s.Driver())

	meta := map[string]string{"run": "1"}
	info, err := s.Put(ctx, "runs/1/Note.jsonl", strings.NewReader("{}\n"), core.PutOptions{ContentType: "application/x-ndjson", Metadata: meta})
	require.NoError(t, err)
	require.Equal(t, int64(3), info.Size)
	meta["run"] = "changed"

	_, err = s.Put(ctx, "runs/1/Note.jsonl", strings.NewReader("x"), core.PutOptions{})
	require.ErrorIs(t, err, core.ErrExists)

	got, rc, err := s.Get(ctx, "runs/1/Note.jsonl")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "{}\n", string(body))
	require.Equal(t, "1", got.Metadata["run"])

	_, err = s.Put(ctx, "runs/2/Tag.jsonl", strings.NewReader(""), core.PutOptions{})
	require.NoError(t, err)
	list, err := s.List(ctx, "runs/1/")
	require.NoError(t, err)
	require.Len(t, list, 1)

	ok, err := s.Delete(ctx, "runs/1/Note.jsonl")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Delete(ctx, "runs/1/Note.jsonl")
	require.NoError(t, err)
	require.False(t, ok)
	_, err = s.Head(ctx, "runs/1/Note.jsonl")
	require.ErrorIs(t, err, core.ErrNotFound)
}
