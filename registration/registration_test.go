package registration

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/poet-network/poet/enclave"
	"github.com/poet-network/poet/enclave/simulated"
	"github.com/poet-network/poet/shared"
)

const testCommitment = "deadbeef00112233445566778899aabbccddeeff00112233445566778899aabb"

func newTestRegistrar(t *testing.T) *Registrar {
	t.Helper()
	boundary := simulated.New()
	require.NoError(t, boundary.Initialize(context.Background(), enclave.InitOpts{DataDir: t.TempDir()}))
	t.Cleanup(func() { require.NoError(t, boundary.Terminate()) })
	return NewRegistrar(boundary)
}

func TestCreateAndVerifySignupInfo(t *testing.T) {
	ctx := context.Background()
	registrar := newTestRegistrar(t)

	info, sealed, err := registrar.CreateSignupInfo(ctx, testCommitment)
	require.NoError(t, err)
	require.NotEmpty(t, info.PoetPublicKey)
	require.NotEmpty(t, sealed)

	// Verification must work for an independent peer.
	peer := newTestRegistrar(t)
	require.NoError(t, peer.VerifySignupInfo(ctx, testCommitment, info))
}

func TestCreateSignupInfoRejectsBadCommitment(t *testing.T) {
	ctx := context.Background()
	registrar := newTestRegistrar(t)

	for _, commitment := range []string{"", "zzzz", strings.Repeat("ab", 100)} {
		_, _, err := registrar.CreateSignupInfo(ctx, commitment)
		require.ErrorIs(t, err, shared.ErrInvalidArgument)
	}
}

func TestVerifySignupInfoRejectsMismatch(t *testing.T) {
	ctx := context.Background()
	registrar := newTestRegistrar(t)

	info, _, err := registrar.CreateSignupInfo(ctx, testCommitment)
	require.NoError(t, err)

	err = registrar.VerifySignupInfo(ctx, strings.Repeat("11", 32), info)
	require.ErrorIs(t, err, shared.ErrInvalidArgument)

	require.ErrorIs(t, registrar.VerifySignupInfo(ctx, testCommitment, nil), shared.ErrInvalidArgument)

	forged := *info
	forged.AntiSybilID = "someone-else"
	require.ErrorIs(t, registrar.VerifySignupInfo(ctx, testCommitment, &forged), shared.ErrInvalidArgument)
}

func TestSignupInfoCodec(t *testing.T) {
	ctx := context.Background()
	registrar := newTestRegistrar(t)

	info, _, err := registrar.CreateSignupInfo(ctx, testCommitment)
	require.NoError(t, err)

	raw, err := info.Serialize()
	require.NoError(t, err)
	parsed, err := ParseSignupInfo(raw)
	require.NoError(t, err)
	require.Equal(t, info, parsed)

	// A parsed document still verifies.
	require.NoError(t, registrar.VerifySignupInfo(ctx, testCommitment, parsed))

	_, err = ParseSignupInfo([]byte("{"))
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
	_, err = ParseSignupInfo([]byte("{}"))
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
}
