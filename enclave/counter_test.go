package enclave

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/poet-network/poet/shared"
)

func newTestCounterStore(t *testing.T) *CounterStore {
	t.Helper()
	s, err := OpenCounterStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestCounterLifecycle(t *testing.T) {
	s := newTestCounterStore(t)

	id, err := s.Create()
	require.NoError(t, err)

	value, err := s.Read(id)
	require.NoError(t, err)
	require.Zero(t, value)

	for want := uint64(1); want <= 3; want++ {
		got, err := s.Increment(id)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	require.NoError(t, s.Destroy(id))
	_, err = s.Read(id)
	require.ErrorIs(t, err, shared.ErrIntegrity)
	require.ErrorIs(t, s.Destroy(id), shared.ErrIntegrity)
}

func TestCountersAreIndependent(t *testing.T) {
	s := newTestCounterStore(t)

	first, err := s.Create()
	require.NoError(t, err)
	second, err := s.Create()
	require.NoError(t, err)

	_, err = s.Increment(first)
	require.NoError(t, err)

	value, err := s.Read(second)
	require.NoError(t, err)
	require.Zero(t, value)
}

func TestUnknownCounterIsIntegrityError(t *testing.T) {
	s := newTestCounterStore(t)

	_, err := s.Read(uuid.New())
	require.ErrorIs(t, err, shared.ErrIntegrity)
	_, err = s.Increment(uuid.New())
	require.ErrorIs(t, err, shared.ErrIntegrity)
}
