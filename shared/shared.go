package shared

import (
	"encoding/base32"
	"fmt"

	"github.com/minio/sha256-simd"
)

const (
	// MinimumWaitTime is the floor, in seconds, for every sampled wait
	// duration regardless of the local mean.
	MinimumWaitTime = 1.0

	// TimerTimeoutPeriod is the grace window, in seconds, after a timer
	// expires during which it may still be turned into a certificate.
	TimerTimeoutPeriod = 30.0

	// IdentifierLength is the length of a wait certificate identifier.
	IdentifierLength = 16

	// NullIdentifier is the previous-certificate reference of the genesis
	// certificate. A timer chained from it bypasses expiration checks.
	NullIdentifier = "0000000000000000"

	MinValidatorAddressLength = 26
	MaxValidatorAddressLength = 66

	// MaxCommitmentLength bounds the originator commitment accepted by
	// signup. Commitments are hex digests; anything longer is malformed.
	MaxCommitmentLength = 128
)

// CertificateID derives a certificate identifier from the certificate's
// interchange-form signature. The low 16 characters of the base32 encoded
// digest reference this certificate as PreviousCertID in its successor.
func CertificateID(signature string) string {
	digest := sha256.Sum256([]byte(signature))
	return base32.StdEncoding.EncodeToString(digest[:])[:IdentifierLength]
}

// ValidateValidatorAddress checks the network identity string bounds.
func ValidateValidatorAddress(address string) error {
	if l := len(address); l < MinValidatorAddressLength || l > MaxValidatorAddressLength {
		return fmt.Errorf("%w: validator address length %d not in [%d, %d]",
			ErrInvalidArgument, l, MinValidatorAddressLength, MaxValidatorAddressLength)
	}
	return nil
}

// ValidateCertID checks that id is a well-formed certificate identifier.
func ValidateCertID(id string) error {
	if len(id) != IdentifierLength {
		return fmt.Errorf("%w: previous certificate ID must be exactly %d characters, got %d",
			ErrInvalidArgument, IdentifierLength, len(id))
	}
	return nil
}

// ValidateLocalMean checks the difficulty parameter.
func ValidateLocalMean(localMean float64) error {
	if !(localMean > 0) {
		return fmt.Errorf("%w: local mean must be positive, got %v", ErrInvalidArgument, localMean)
	}
	return nil
}

// ValidateCommitment checks the originator commitment before it reaches
// the trust boundary.
func ValidateCommitment(commitment string) error {
	if commitment == "" {
		return fmt.Errorf("%w: originator commitment is empty", ErrInvalidArgument)
	}
	if len(commitment) > MaxCommitmentLength {
		return fmt.Errorf("%w: originator commitment exceeds %d characters",
			ErrInvalidArgument, MaxCommitmentLength)
	}
	for _, c := range commitment {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return fmt.Errorf("%w: originator commitment is not a hex digest", ErrInvalidArgument)
		}
	}
	return nil
}
