package simulated

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/minio/sha256-simd"
	"github.com/stretchr/testify/require"

	"github.com/poet-network/poet/enclave"
	"github.com/poet-network/poet/shared"
)

const (
	testCommitment = "aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899"
	testAddress    = "1234567890abcdef1234567890abcdef12345678"
)

func newTestBoundary(t *testing.T, opts ...func(*enclave.InitOpts)) *Boundary {
	t.Helper()
	initOpts := enclave.InitOpts{DataDir: t.TempDir()}
	for _, opt := range opts {
		opt(&initOpts)
	}
	b := New()
	require.NoError(t, b.Initialize(context.Background(), initOpts))
	t.Cleanup(func() { require.NoError(t, b.Terminate()) })
	return b
}

func TestInitializeIsIdempotent(t *testing.T) {
	dataDir := t.TempDir()
	b := newTestBoundary(t, func(o *enclave.InitOpts) { o.DataDir = dataDir })
	require.NoError(t, b.Initialize(context.Background(), enclave.InitOpts{DataDir: dataDir}))
}

func TestTerminateIsRepeatable(t *testing.T) {
	b := New()
	require.NoError(t, b.Initialize(context.Background(), enclave.InitOpts{DataDir: t.TempDir()}))
	require.NoError(t, b.Terminate())
	require.NoError(t, b.Terminate())
}

func TestCallsBeforeInitializeFail(t *testing.T) {
	b := New()
	_, err := b.CreateSignupData(context.Background(), testCommitment)
	require.ErrorIs(t, err, shared.ErrSystemFailure)
}

func TestSignupAndPeerVerification(t *testing.T) {
	b := newTestBoundary(t)
	ctx := context.Background()

	data, err := b.CreateSignupData(ctx, testCommitment)
	require.NoError(t, err)
	require.Equal(t, b.AntiSybilID(), data.Evidence.AntiSybilID)

	// A peer boundary verifies the evidence without any shared state.
	peer := newTestBoundary(t)
	require.NoError(t, peer.VerifySignupInfo(ctx, testCommitment, data.PublicKey, data.Evidence))

	err = peer.VerifySignupInfo(ctx, strings.Repeat("00", 32), data.PublicKey, data.Evidence)
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestAntiSybilIDFromConfigFile(t *testing.T) {
	configDir := t.TempDir()
	content := "validator_id = \"validator-one\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(configDir, ConfigFilename), []byte(content), 0o600))

	b := newTestBoundary(t, func(o *enclave.InitOpts) { o.ConfigDir = configDir })

	digest := sha256.Sum256([]byte("validator-one"))
	require.Equal(t, hex.EncodeToString(digest[:]), b.AntiSybilID())
}

func TestAntiSybilIDIsRandomWithoutConfig(t *testing.T) {
	first := newTestBoundary(t)
	second := newTestBoundary(t)
	require.NotEqual(t, first.AntiSybilID(), second.AntiSybilID())
}

func TestDurationFloor(t *testing.T) {
	sampler, err := newExponentialSampler()
	require.NoError(t, err)

	for _, localMean := range []float64{0.001, 1, 5, 100, 10_000} {
		for i := 0; i < 100; i++ {
			d, err := sampler.SampleDuration(localMean, testAddress, shared.NullIdentifier)
			require.NoError(t, err)
			require.GreaterOrEqual(t, d, shared.MinimumWaitTime)
		}
	}
}

// The genesis flow: a timer chained from the null identifier turns into a
// certificate immediately, no waiting.
func TestGenesisCertificateFlow(t *testing.T) {
	b := newTestBoundary(t)
	ctx := context.Background()

	data, err := b.CreateSignupData(ctx, testCommitment)
	require.NoError(t, err)

	timer, err := b.CreateWaitTimer(ctx, data.Sealed, testAddress, shared.NullIdentifier, 0, 5.0)
	require.NoError(t, err)

	cert, err := b.CreateWaitCertificate(ctx, data.Sealed, timer.Serialized, timer.Signature, "genesisblockhash")
	require.NoError(t, err)
	require.Len(t, cert.Identifier(), shared.IdentifierLength)
	require.NotEqual(t, shared.NullIdentifier, cert.Identifier())
	require.NoError(t, b.VerifyWaitCertificate(cert.Serialized, cert.Signature, data.PublicKey))
}

func TestIdentitySurvivesRestart(t *testing.T) {
	dataDir := t.TempDir()
	ctx := context.Background()

	b := New()
	require.NoError(t, b.Initialize(ctx, enclave.InitOpts{DataDir: dataDir}))
	data, err := b.CreateSignupData(ctx, testCommitment)
	require.NoError(t, err)
	require.NoError(t, b.Terminate())

	reborn := New()
	require.NoError(t, reborn.Initialize(ctx, enclave.InitOpts{DataDir: dataDir}))
	t.Cleanup(func() { require.NoError(t, reborn.Terminate()) })

	pub, err := reborn.UnsealSignupData(data.Sealed)
	require.NoError(t, err)
	require.Equal(t, data.PublicKey, pub)
}
