package enclave

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/poet-network/poet/logging"
	"github.com/poet-network/poet/shared"
)

const (
	nonceSize = 32
	// maxClockDrift is how far a caller-supplied request time may sit from
	// the boundary clock before we log it. The caller's RequestTime is
	// informational only; the validity window is anchored to the
	// boundary-stamped BoundaryRequestTime inside the signed timer.
	maxClockDrift = 1.0
)

// DurationSampler draws a wait duration for one timer. Implementations
// must be deterministic only in distribution, never per-call.
type DurationSampler interface {
	SampleDuration(localMean float64, validatorAddress, previousCertID string) (float64, error)
}

// Engine is the state machine shared by both trust boundary backends. It
// owns the read-modify-write critical section around the replay counter;
// backends layer their duration derivation, attestation flavor and fault
// policy on top.
type Engine struct {
	mu      sync.Mutex
	vault   *Vault
	sampler DurationSampler
	clock   clock.Clock
}

func NewEngine(vault *Vault, sampler DurationSampler, clk clock.Clock) *Engine {
	return &Engine{vault: vault, sampler: sampler, clock: clk}
}

func (e *Engine) now() float64 {
	return float64(e.clock.Now().UnixNano()) / 1e9
}

// CreateSignup establishes a fresh identity: new keypair, zero-valued
// replay counter, and attestation evidence binding the public key to the
// originator commitment.
func (e *Engine) CreateSignup(ctx context.Context, originatorCommitment, antiSybilID string) (*SignupData, error) {
	if err := shared.ValidateCommitment(originatorCommitment); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id, sealed, err := e.vault.NewIdentity()
	if err != nil {
		return nil, err
	}
	evidence, err := BuildSignupEvidence(originatorCommitment, id.PublicKey(), antiSybilID, e.clock.Now())
	if err != nil {
		// The counter is unreachable without evidence, drop it again.
		if releaseErr := e.vault.ReleaseIdentity(id); releaseErr != nil {
			logging.FromContext(ctx).Warn("releasing orphaned signup identity", zap.Error(releaseErr))
		}
		return nil, err
	}
	return &SignupData{PublicKey: id.PublicKey(), Evidence: evidence, Sealed: sealed}, nil
}

// Unseal reopens a sealed identity and returns its interchange-form
// public key.
func (e *Engine) Unseal(sealed SealedData) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, err := e.vault.Open(sealed)
	if err != nil {
		return "", err
	}
	return id.PublicKey(), nil
}

// Release destroys the sealed identity's replay counter, retiring the
// identity for good.
func (e *Engine) Release(sealed SealedData) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, err := e.vault.Open(sealed)
	if err != nil {
		return err
	}
	return e.vault.ReleaseIdentity(id)
}

// CreateWaitTimer samples a duration, advances the replay counter and
// returns the signed timer pinned to the new counter value.
func (e *Engine) CreateWaitTimer(
	ctx context.Context,
	sealed SealedData,
	validatorAddress, previousCertID string,
	requestTime, localMean float64,
) (*SignedTimer, error) {
	if err := shared.ValidateValidatorAddress(validatorAddress); err != nil {
		return nil, err
	}
	if err := shared.ValidateCertID(previousCertID); err != nil {
		return nil, err
	}
	if err := shared.ValidateLocalMean(localMean); err != nil {
		return nil, err
	}

	boundaryTime := e.now()
	if drift := math.Abs(boundaryTime - requestTime); drift > maxClockDrift {
		logging.FromContext(ctx).Warn(
			"wait timer request time drifts from boundary clock",
			zap.Float64("drift_seconds", drift),
			zap.String("validator_address", validatorAddress),
		)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.vault.Open(sealed)
	if err != nil {
		return nil, err
	}
	duration, err := e.sampler.SampleDuration(localMean, validatorAddress, previousCertID)
	if err != nil {
		return nil, err
	}
	sequenceID, err := e.vault.AdvanceCounter(id)
	if err != nil {
		return nil, err
	}

	timer := WaitTimer{
		BoundaryRequestTime: boundaryTime,
		Duration:            duration,
		LocalMean:           localMean,
		PreviousCertID:      previousCertID,
		RequestTime:         requestTime,
		SequenceID:          sequenceID,
		ValidatorAddress:    validatorAddress,
	}
	serialized := timer.Serialize()
	signature, err := id.Sign(serialized)
	if err != nil {
		return nil, err
	}
	return &SignedTimer{Serialized: serialized, Signature: signature, Timer: timer}, nil
}

// CreateWaitCertificate consumes a timer exactly once. The timer must
// carry the identity's own signature, reference the current replay
// counter value and, outside of genesis, sit inside its validity window.
// Advancing the counter after signing is what makes reuse impossible.
func (e *Engine) CreateWaitCertificate(
	ctx context.Context,
	sealed SealedData,
	serializedTimer []byte,
	timerSignature, blockHash string,
) (*SignedCertificate, error) {
	if blockHash == "" {
		return nil, fmt.Errorf("%w: block hash must not be empty", shared.ErrInvalidArgument)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.vault.Open(sealed)
	if err != nil {
		return nil, err
	}
	if err := id.Verify(serializedTimer, timerSignature); err != nil {
		return nil, fmt.Errorf("%w: wait timer was not signed by this identity", shared.ErrInvalidArgument)
	}
	timer, err := ParseWaitTimer(serializedTimer)
	if err != nil {
		return nil, err
	}

	counter, err := e.vault.CounterValue(id)
	if err != nil {
		return nil, err
	}
	if timer.SequenceID != counter {
		return nil, fmt.Errorf("%w: wait timer has already been consumed or superseded", shared.ErrInvalidArgument)
	}

	if timer.PreviousCertID != shared.NullIdentifier {
		// The window base is the time we stamped into the timer ourselves,
		// so a backdated caller RequestTime cannot shorten the wait.
		currentTime := math.Ceil(e.now())
		expireTime := math.Floor(timer.BoundaryRequestTime + timer.Duration)
		timeoutTime := math.Ceil(timer.BoundaryRequestTime + timer.Duration + shared.TimerTimeoutPeriod)
		if currentTime < expireTime {
			return nil, fmt.Errorf("%w: wait timer has not expired", shared.ErrInvalidArgument)
		}
		if currentTime > timeoutTime {
			logging.FromContext(ctx).Info(
				"wait timer timed out before certificate creation",
				zap.Float64("timeout_time", timeoutTime),
				zap.Float64("current_time", currentTime),
			)
			return nil, fmt.Errorf("%w: wait timer has timed out", shared.ErrInvalidArgument)
		}
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: sampling certificate nonce: %v", shared.ErrSystemFailure, err)
	}

	cert := WaitCertificate{
		BlockHash:        blockHash,
		Duration:         timer.Duration,
		LocalMean:        timer.LocalMean,
		Nonce:            hex.EncodeToString(nonce),
		PreviousCertID:   timer.PreviousCertID,
		RequestTime:      timer.RequestTime,
		ValidatorAddress: timer.ValidatorAddress,
	}
	serialized := cert.Serialize()
	signature, err := id.Sign(serialized)
	if err != nil {
		return nil, err
	}
	if _, err := e.vault.AdvanceCounter(id); err != nil {
		return nil, err
	}
	return &SignedCertificate{Serialized: serialized, Signature: signature, Certificate: cert}, nil
}
