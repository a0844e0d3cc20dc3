package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string
	Blob  []byte
	Count uint64
}

func TestPersistLoadRoundTrip(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "state.bin")
	in := &record{Name: "validator", Blob: []byte{1, 2, 3}, Count: 7}
	require.NoError(t, Persist(filename, in))

	out := &record{}
	require.NoError(t, Load(filename, out))
	require.Equal(t, in, out)
}

func TestLoadMissingFile(t *testing.T) {
	err := Load(filepath.Join(t.TempDir(), "nope.bin"), &record{})
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadCorruptFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "state.bin")
	require.NoError(t, os.WriteFile(filename, []byte{0xff}, 0o600))
	require.Error(t, Load(filename, &record{}))
}
