// Package enclave defines the trust boundary contract for the PoET
// identity and wait-timer/wait-certificate protocol, plus the state
// machine shared by its backends.
//
// Two backends implement the contract: enclave/attested (hardware
// flavored: keyed-MAC duration derivation, trusted time source, internal
// retry policy) and enclave/simulated (wall clock, PRNG durations).
// Callers depend only on TrustBoundary. The security property "the wait
// really elapsed" holds only for an attested backend running inside a
// hardware trust boundary; the simulated backend exposes an identical
// contract without that guarantee.
package enclave

import (
	"context"
	"strings"

	"github.com/minio/sha256-simd"
)

// SealedData is an opaque sealed identity blob. Only the trust boundary
// that produced it can open it; callers persist and pass it back verbatim.
type SealedData []byte

// String redacts the blob so it can't leak through logging.
func (SealedData) String() string { return "SealedData(opaque)" }

// AttestationEvidence is the exportable proof bundle produced at signup.
// ProofData is forwarded verbatim to peers; its internal structure belongs
// to the backend that produced it.
type AttestationEvidence struct {
	ProofData   string
	AntiSybilID string
}

// SignupData is the result of establishing a fresh identity.
type SignupData struct {
	// PublicKey is the interchange-form identity public key.
	PublicKey string
	// Evidence lets remote peers verify this signup.
	Evidence *AttestationEvidence
	// Sealed is stored locally and passed to subsequent boundary calls.
	Sealed SealedData
}

// InitOpts configures boundary initialization.
type InitOpts struct {
	// DataDir holds boundary-private state (master key, counters).
	DataDir string
	// ConfigDir may hold an optional backend configuration file.
	ConfigDir string
}

// TrustBoundary is the contract both backends implement. All calls are
// synchronous and blocking; backends classify internal faults into the
// shared error taxonomy before returning.
type TrustBoundary interface {
	// Initialize is idempotent; a second call while initialized is a
	// no-op success.
	Initialize(ctx context.Context, opts InitOpts) error

	// Terminate releases boundary resources. Safe to call repeatedly.
	Terminate() error

	// CreateSignupData generates a fresh keypair and replay counter,
	// binds them to the originator commitment inside attestation
	// evidence, and returns the sealed identity for durable storage.
	CreateSignupData(ctx context.Context, originatorCommitment string) (*SignupData, error)

	// UnsealSignupData reopens a previously sealed identity and returns
	// its public key. Fails with an integrity error when the referenced
	// replay counter no longer exists.
	UnsealSignupData(sealed SealedData) (string, error)

	// ReleaseSignupData destroys the identity's replay counter. This
	// revocation is irreversible.
	ReleaseSignupData(sealed SealedData) error

	// VerifySignupInfo checks a remote validator's signup evidence
	// against its claimed commitment and public key. Requires no secret
	// material.
	VerifySignupInfo(ctx context.Context, originatorCommitment, publicKey string, evidence *AttestationEvidence) error

	// CreateWaitTimer samples a wait duration, advances the replay
	// counter and returns the signed, serialized timer.
	CreateWaitTimer(ctx context.Context, sealed SealedData, validatorAddress, previousCertID string, requestTime, localMean float64) (*SignedTimer, error)

	// CreateWaitCertificate consumes an unexpired timer exactly once and
	// returns the signed, serialized certificate.
	CreateWaitCertificate(ctx context.Context, sealed SealedData, serializedTimer []byte, timerSignature, blockHash string) (*SignedCertificate, error)

	// VerifyWaitCertificate checks a certificate signature against the
	// signer's public key. Stateless; usable by any peer.
	VerifyWaitCertificate(serializedCert []byte, signature, publicKey string) error
}

// ReportBinding computes the value embedded in attestation evidence that
// ties a signup public key to the originator commitment: the digest of
// the uppercased commitment concatenated with the uppercased encoded
// public key. Peers recompute it rather than trusting the claimed value.
func ReportBinding(originatorCommitment, publicKey string) [sha256.Size]byte {
	return sha256.Sum256([]byte(strings.ToUpper(originatorCommitment) + strings.ToUpper(publicKey)))
}
