package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/poet-network/poet/enclave"
	"github.com/poet-network/poet/shared"
	"github.com/poet-network/poet/signing"
)

func storedCertificate(t *testing.T, previousCertID string) *enclave.SignedCertificate {
	t.Helper()
	key, err := signing.GenerateKeyPair()
	require.NoError(t, err)

	cert := enclave.WaitCertificate{
		BlockHash:        "blockhash",
		Duration:         5,
		LocalMean:        5,
		Nonce:            "00112233",
		PreviousCertID:   previousCertID,
		RequestTime:      100,
		ValidatorAddress: testAddress,
	}
	serialized := cert.Serialize()
	sig, err := signing.Sign(serialized, key)
	require.NoError(t, err)
	return &enclave.SignedCertificate{Serialized: serialized, Signature: sig.Encode(), Certificate: cert}
}

func TestDatabaseRoundTrip(t *testing.T) {
	db, err := newDatabase(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	cert := storedCertificate(t, shared.NullIdentifier)
	require.NoError(t, db.SaveCertificate(cert, "pubkey"))

	got, publicKey, err := db.GetCertificate(cert.Identifier())
	require.NoError(t, err)
	require.Equal(t, "pubkey", publicKey)
	require.Equal(t, cert.Serialized, got.Serialized)
	require.Equal(t, cert.Certificate, got.Certificate)

	_, _, err = db.GetCertificate("QQQQQQQQQQQQQQQQ")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDatabaseChainWalk(t *testing.T) {
	db, err := newDatabase(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	previous := shared.NullIdentifier
	var certs []*enclave.SignedCertificate
	for i := 0; i < 4; i++ {
		cert := storedCertificate(t, previous)
		require.NoError(t, db.SaveCertificate(cert, "pubkey"))
		certs = append(certs, cert)
		previous = cert.Identifier()
	}

	chain, err := db.GetChain(previous, 10)
	require.NoError(t, err)
	require.Len(t, chain, 4)
	require.Equal(t, certs[3].Serialized, chain[0].Serialized)
	require.Equal(t, certs[0].Serialized, chain[3].Serialized)

	chain, err = db.GetChain(previous, 2)
	require.NoError(t, err)
	require.Len(t, chain, 2)

	// A dangling reference truncates the walk instead of failing it.
	orphan := storedCertificate(t, "MISSINGREFERENCE")
	require.NoError(t, db.SaveCertificate(orphan, "pubkey"))
	chain, err = db.GetChain(orphan.Identifier(), 10)
	require.NoError(t, err)
	require.Len(t, chain, 1)
}
