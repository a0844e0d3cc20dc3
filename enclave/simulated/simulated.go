// Package simulated is the software-only trust boundary backend. It
// implements the full protocol contract against the wall clock and a
// PRNG, with no hardware guarantee that the sampled wait actually
// elapsed. Intended for development networks and tests.
package simulated

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/minio/sha256-simd"
	"go.uber.org/zap"

	"github.com/poet-network/poet/enclave"
	"github.com/poet-network/poet/logging"
	"github.com/poet-network/poet/shared"
)

// ConfigFilename is the optional per-boundary configuration file looked
// up in InitOpts.ConfigDir.
const ConfigFilename = "poet_enclave_simulated.toml"

type fileConfig struct {
	// ValidatorID seeds the anti-Sybil identifier. When unset a random
	// one is generated per Initialize, which makes the identity look like
	// a fresh platform every run.
	ValidatorID string `toml:"validator_id"`
}

type exponentialSampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newExponentialSampler() (*exponentialSampler, error) {
	var seed [8]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("%w: seeding duration sampler: %v", shared.ErrSystemFailure, err)
	}
	return &exponentialSampler{
		rng: rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(seed[:])))),
	}, nil
}

// SampleDuration draws from an exponential distribution with mean
// localMean, shifted by the protocol floor.
func (s *exponentialSampler) SampleDuration(localMean float64, _, _ string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return shared.MinimumWaitTime + s.rng.ExpFloat64()*localMean, nil
}

// Boundary is the simulated TrustBoundary implementation.
type Boundary struct {
	mu          sync.Mutex
	vault       *enclave.Vault
	engine      *enclave.Engine
	antiSybilID string
}

var _ enclave.TrustBoundary = (*Boundary)(nil)

func New() *Boundary {
	return &Boundary{}
}

func (b *Boundary) Initialize(ctx context.Context, opts enclave.InitOpts) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.engine != nil {
		logging.FromContext(ctx).Debug("simulated boundary already initialized")
		return nil
	}

	vault, err := enclave.OpenVault(opts.DataDir)
	if err != nil {
		return err
	}
	sampler, err := newExponentialSampler()
	if err != nil {
		_ = vault.Close()
		return err
	}

	b.antiSybilID = antiSybilID(ctx, opts.ConfigDir)
	b.vault = vault
	b.engine = enclave.NewEngine(vault, sampler, clock.New())
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
	engine, err := b.ready()
	if err != nil {
		return nil, err
	}
	return engine.CreateSignup(ctx, originatorCommitment, b.antiSybilID)
}

func (b *Boundary) UnsealSignupData(sealed enclave.SealedData) (string, error) {
	engine, err := b.ready()
	if err != nil {
		return "", err
	}
	return engine.Unseal(sealed)
}

func (b *Boundary) ReleaseSignupData(sealed enclave.SealedData) error {
	engine, err := b.ready()
	if err != nil {
		return err
	}
	return engine.Release(sealed)
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
	engine, err := b.ready()
	if err != nil {
		return nil, err
	}
	return engine.CreateWaitTimer(ctx, sealed, validatorAddress, previousCertID, requestTime, localMean)
}

func (b *Boundary) CreateWaitCertificate(
	ctx context.Context,
	sealed enclave.SealedData,
	serializedTimer []byte,
	timerSignature, blockHash string,
) (*enclave.SignedCertificate, error) {
	engine, err := b.ready()
	if err != nil {
		return nil, err
	}
	return engine.CreateWaitCertificate(ctx, sealed, serializedTimer, timerSignature, blockHash)
}

func (b *Boundary) VerifyWaitCertificate(serializedCert []byte, signature, publicKey string) error {
	return enclave.VerifyWaitCertificate(serializedCert, signature, publicKey)
}

func (b *Boundary) ready() (*enclave.Engine, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.engine == nil {
		return nil, fmt.Errorf("%w: boundary is not initialized", shared.ErrSystemFailure)
	}
	return b.engine, nil
}

// AntiSybilID exposes the identifier embedded in signup evidence.
func (b *Boundary) AntiSybilID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.antiSybilID
}

func antiSybilID(ctx context.Context, configDir string) string {
	seed := uuid.NewString()
	if configDir != "" {
		path := filepath.Join(configDir, ConfigFilename)
		cfg := fileConfig{}
		switch _, err := toml.DecodeFile(path, &cfg); {
		case err == nil && cfg.ValidatorID != "":
			seed = cfg.ValidatorID
		case err != nil && !os.IsNotExist(err):
			logging.FromContext(ctx).Warn("ignoring unreadable boundary config",
				zap.String("path", path), zap.Error(err))
		}
	}
	digest := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(digest[:])
}
