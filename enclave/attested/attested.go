// Package attested is the hardware-flavored trust boundary backend. Wait
// durations are derived with a keyed MAC under a boundary secret, so a
// validator cannot grind durations by resampling, and face-to-boundary
// faults follow the hardware model: transient busy conditions are retried
// internally and a lost boundary session is reloaded once before the
// fault surfaces.
package attested

import (
	"context"
	"crypto/hmac"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/minio/sha256-simd"
	"go.uber.org/zap"

	"github.com/poet-network/poet/enclave"
	"github.com/poet-network/poet/logging"
	"github.com/poet-network/poet/shared"
)

const (
	// busyRetryBudget and busyRetryDelay bound the internal retry loop for
	// transient busy faults.
	busyRetryBudget = 5
	busyRetryDelay  = 100 * time.Millisecond
)

// ErrSessionLost classifies a fault meaning the boundary session became
// invalid and its state must be reloaded. It never escapes the backend.
var ErrSessionLost = errors.New("boundary session lost")

type macSampler struct {
	key []byte
}

// SampleDuration derives the wait deterministically from the chain
// position under the boundary secret. The MAC output maps to u in (0, 1]
// and the duration is the exponential inverse CDF shifted by the floor,
// so it is never below MinimumWaitTime.
func (s macSampler) SampleDuration(localMean float64, validatorAddress, previousCertID string) (float64, error) {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(validatorAddress))
	mac.Write([]byte(previousCertID))
	tag := mac.Sum(nil)

	v := binary.LittleEndian.Uint64(tag[len(tag)-8:])
	u := (float64(v) + 1) / float64(1<<63) / 2
	return shared.MinimumWaitTime - localMean*math.Log(u), nil
}

// Boundary is the attested TrustBoundary implementation.
type Boundary struct {
	mu          sync.Mutex
	clk         clock.Clock
	vault       *enclave.Vault
	engine      *enclave.Engine
	antiSybilID string
	dataDir     string
}

var _ enclave.TrustBoundary = (*Boundary)(nil)

// New returns a boundary driven by the given trusted time source. Pass
// clock.New() outside of tests.
func New(clk clock.Clock) *Boundary {
	return &Boundary{clk: clk}
}

func (b *Boundary) Initialize(ctx context.Context, opts enclave.InitOpts) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.engine != nil {
		logging.FromContext(ctx).Debug("attested boundary already initialized")
		return nil
	}
	b.dataDir = opts.DataDir
	// The platform identity is stable per data dir, the way a hardware
	// platform's EPID pseudonym is stable per CPU.
	b.antiSybilID = platformID(opts.DataDir)
	return b.loadSession()
}

func (b *Boundary) loadSession() error {
	vault, err := enclave.OpenVault(b.dataDir)
	if err != nil {
		return err
	}
	b.vault = vault
	b.engine = enclave.NewEngine(vault, macSampler{key: vault.DurationKey()}, b.clk)
	return nil
}

func (b *Boundary) Terminate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.vault == nil {
		return nil
	}
	err := b.vault.Close()
	b.vault = nil
	b.engine = nil
	return err
}

func (b *Boundary) CreateSignupData(ctx context.Context, originatorCommitment string) (*enclave.SignupData, error) {
	var data *enclave.SignupData
	err := b.execute(ctx, func(e *enclave.Engine) error {
		var err error
		data, err = e.CreateSignup(ctx, originatorCommitment, b.antiSybilID)
		return err
	})
	return data, err
}

func (b *Boundary) UnsealSignupData(sealed enclave.SealedData) (string, error) {
	var publicKey string
	err := b.execute(context.Background(), func(e *enclave.Engine) error {
		var err error
		publicKey, err = e.Unseal(sealed)
		return err
	})
	return publicKey, err
}

func (b *Boundary) ReleaseSignupData(sealed enclave.SealedData) error {
	return b.execute(context.Background(), func(e *enclave.Engine) error {
		return e.Release(sealed)
	})
}

func (b *Boundary) VerifySignupInfo(_ context.Context, originatorCommitment, publicKey string, evidence *enclave.AttestationEvidence) error {
	return enclave.VerifySignupEvidence(originatorCommitment, publicKey, evidence)
}

func (b *Boundary) CreateWaitTimer(
	ctx context.Context,
	sealed enclave.SealedData,
	validatorAddress, previousCertID string,
	requestTime, localMean float64,
) (*enclave.SignedTimer, error) {
	var timer *enclave.SignedTimer
	err := b.execute(ctx, func(e *enclave.Engine) error {
		var err error
		timer, err = e.CreateWaitTimer(ctx, sealed, validatorAddress, previousCertID, requestTime, localMean)
		return err
	})
	return timer, err
}

func (b *Boundary) CreateWaitCertificate(
	ctx context.Context,
	sealed enclave.SealedData,
	serializedTimer []byte,
	timerSignature, blockHash string,
) (*enclave.SignedCertificate, error) {
	var cert *enclave.SignedCertificate
	err := b.execute(ctx, func(e *enclave.Engine) error {
		var err error
		cert, err = e.CreateWaitCertificate(ctx, sealed, serializedTimer, timerSignature, blockHash)
		return err
	})
	return cert, err
}

func (b *Boundary) VerifyWaitCertificate(serializedCert []byte, signature, publicKey string) error {
	return enclave.VerifyWaitCertificate(serializedCert, signature, publicKey)
}

// execute runs op against the current session under the backend's fault
// policy: busy faults are retried on a fixed budget and a lost session is
// reloaded once. Anything past the policy surfaces as a system failure.
func (b *Boundary) execute(ctx context.Context, op func(*enclave.Engine) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.engine == nil {
		return fmt.Errorf("%w: boundary is not initialized", shared.ErrSystemFailure)
	}
	return runWithFaultPolicy(ctx, b.clk, b.reloadSession, func() error {
		return op(b.engine)
	})
}

// reloadSession drops and rebuilds the boundary session. Caller holds the
// lock.
func (b *Boundary) reloadSession(ctx context.Context) error {
	logging.FromContext(ctx).Warn("reloading lost boundary session")
	if b.vault != nil {
		if err := b.vault.Close(); err != nil {
			logging.FromContext(ctx).Warn("closing lost boundary session", zap.Error(err))
		}
	}
	return b.loadSession()
}

func runWithFaultPolicy(
	ctx context.Context,
	clk clock.Clock,
	reload func(context.Context) error,
	op func() error,
) error {
	reloaded := false
	busyRetries := 0
	for {
		err := op()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, shared.ErrSystemBusy):
			if busyRetries >= busyRetryBudget {
				return fmt.Errorf("%w: boundary still busy after %d retries", shared.ErrSystemFailure, busyRetries)
			}
			busyRetries++
			clk.Sleep(busyRetryDelay)
		case errors.Is(err, ErrSessionLost):
			if reloaded {
				return fmt.Errorf("%w: boundary session lost twice", shared.ErrSystemFailure)
			}
			reloaded = true
			if reloadErr := reload(ctx); reloadErr != nil {
				return reloadErr
			}
		default:
			return classify(err)
		}
	}
}

// classify folds boundary faults into the shared taxonomy. Errors already
// carrying a taxonomy sentinel pass through untouched.
func classify(err error) error {
	switch {
	case errors.Is(err, shared.ErrInvalidArgument),
		errors.Is(err, shared.ErrIntegrity),
		errors.Is(err, shared.ErrSystemFailure):
		return err
	default:
		return fmt.Errorf("%w: %v", shared.ErrUnknown, err)
	}
}

func platformID(dataDir string) string {
	digest := sha256.Sum256([]byte("poet platform identity " + dataDir))
	return hex.EncodeToString(digest[:])
}
