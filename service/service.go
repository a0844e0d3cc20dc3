package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/poet-network/poet/enclave"
	"github.com/poet-network/poet/logging"
	"github.com/poet-network/poet/registration"
	"github.com/poet-network/poet/shared"
)

var (
	ErrNotSignedUp    = errors.New("validator has not signed up")
	ErrNoPendingTimer = errors.New("no pending wait timer")

	signupsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poet",
		Subsystem: "service",
		Name:      "signups_total",
		Help:      "Number of identity signups performed",
	})

	timersMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poet",
		Subsystem: "service",
		Name:      "timers_created_total",
		Help:      "Number of wait timers created",
	})

	certificatesMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poet",
		Subsystem: "service",
		Name:      "certificates_created_total",
		Help:      "Number of wait certificates created",
	})

	certificatesRejectedMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poet",
		Subsystem: "service",
		Name:      "certificates_rejected_total",
		Help:      "Number of wait certificate attempts rejected by the trust boundary",
	})
)

// Service runs one validator's protocol cycle against a trust boundary.
type Service struct {
	cfg       *Config
	datadir   string
	boundary  enclave.TrustBoundary
	registrar *registration.Registrar
	db        *database

	mu sync.Mutex
	// state is nil until the validator signs up or a persisted identity
	// is recovered from the data dir.
	state *serviceState
	// pendingTimer is the timer awaiting certification. At most one timer
	// is pending; creating a new one supersedes it anyway, through the
	// boundary's sequencing.
	pendingTimer *enclave.SignedTimer
}

func NewService(ctx context.Context, cfg *Config, datadir string, boundary enclave.TrustBoundary) (*Service, error) {
	db, err := newDatabase(filepath.Join(datadir, "certs"))
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:       cfg,
		datadir:   datadir,
		boundary:  boundary,
		registrar: registration.NewRegistrar(boundary),
		db:        db,
	}
	if err := s.recoverState(ctx); err != nil {
		return nil, multierror.Append(err, db.Close()).ErrorOrNil()
	}
	return s, nil
}

// recoverState reloads a persisted identity, dropping it when the
// boundary no longer recognizes the sealed blob.
func (s *Service) recoverState(ctx context.Context) error {
	state, err := loadState(s.datadir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("recovering service state: %w", err)
	}

	publicKey, err := s.boundary.UnsealSignupData(state.Sealed)
	if err != nil {
		logging.FromContext(ctx).Warn("dropping persisted identity the boundary no longer accepts", zap.Error(err))
		return nil
	}
	if publicKey != state.PoetPublicKey {
		return fmt.Errorf("%w: persisted public key does not match sealed identity", shared.ErrIntegrity)
	}

	logging.FromContext(ctx).Info("recovered persisted identity",
		zap.String("poet_public_key", state.PoetPublicKey),
		zap.String("last_cert_id", state.LastCertID),
	)
	s.state = state
	return nil
}

func (s *Service) Close() error {
	return s.db.Close()
}

// Signup establishes (or replaces) this validator's identity and persists
// the sealed blob. The returned document is what peers verify.
func (s *Service) Signup(ctx context.Context, originatorCommitment string) (*registration.SignupInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != nil {
		logging.FromContext(ctx).Info("replacing existing identity",
			zap.String("old_poet_public_key", s.state.PoetPublicKey))
		if err := s.boundary.ReleaseSignupData(s.state.Sealed); err != nil {
			logging.FromContext(ctx).Warn("releasing replaced identity", zap.Error(err))
		}
	}

	info, sealed, err := s.registrar.CreateSignupInfo(ctx, originatorCommitment)
	if err != nil {
		return nil, err
	}
	state := &serviceState{
		Sealed:        sealed,
		PoetPublicKey: info.PoetPublicKey,
		LastCertID:    shared.NullIdentifier,
	}
	if err := saveState(s.datadir, state); err != nil {
		return nil, fmt.Errorf("persisting identity: %w", err)
	}
	s.state = state
	s.pendingTimer = nil
	signupsMetric.Inc()
	return info, nil
}

// PublicKey returns the identity public key.
func (s *Service) PublicKey() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return "", ErrNotSignedUp
	}
	return s.state.PoetPublicKey, nil
}

// CreateWaitTimer requests a timer for the current chain position.
func (s *Service) CreateWaitTimer(ctx context.Context) (*enclave.SignedTimer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, ErrNotSignedUp
	}

	requestTime := float64(time.Now().UnixNano()) / 1e9
	timer, err := s.boundary.CreateWaitTimer(
		ctx, s.state.Sealed, s.cfg.ValidatorAddress, s.state.LastCertID, requestTime, s.cfg.LocalMean)
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("created wait timer",
		zap.Float64("duration", timer.Timer.Duration),
		zap.String("previous_cert_id", timer.Timer.PreviousCertID),
		zap.Uint64("sequence_id", timer.Timer.SequenceID),
	)
	s.pendingTimer = timer
	timersMetric.Inc()
	return timer, nil
}

// CreateWaitCertificate consumes the pending timer for the given block. A
// rejection (timer not yet expired, timed out) leaves the pending timer in
// place; the caller decides whether to retry or start a new timer.
func (s *Service) CreateWaitCertificate(ctx context.Context, blockHash string) (*enclave.SignedCertificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, ErrNotSignedUp
	}
	if s.pendingTimer == nil {
		return nil, ErrNoPendingTimer
	}

	cert, err := s.boundary.CreateWaitCertificate(
		ctx, s.state.Sealed, s.pendingTimer.Serialized, s.pendingTimer.Signature, blockHash)
	if err != nil {
		certificatesRejectedMetric.Inc()
		return nil, err
	}

	if err := s.db.SaveCertificate(cert, s.state.PoetPublicKey); err != nil {
		return nil, err
	}
	s.state.LastCertID = cert.Identifier()
	if err := saveState(s.datadir, s.state); err != nil {
		return nil, fmt.Errorf("persisting chain position: %w", err)
	}
	s.pendingTimer = nil
	certificatesMetric.Inc()

	logging.FromContext(ctx).Info("created wait certificate",
		zap.String("cert_id", cert.Identifier()),
		zap.String("previous_cert_id", cert.Certificate.PreviousCertID),
	)
	return cert, nil
}

// GetCertificate looks up a stored certificate by identifier.
func (s *Service) GetCertificate(id string) (*enclave.SignedCertificate, string, error) {
	if err := shared.ValidateCertID(id); err != nil {
		return nil, "", err
	}
	return s.db.GetCertificate(id)
}

// CertificateChain returns this validator's issued certificates, newest
// first.
func (s *Service) CertificateChain(limit int) ([]*enclave.SignedCertificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, ErrNotSignedUp
	}
	return s.db.GetChain(s.state.LastCertID, limit)
}

// VerifyCertificate checks any peer's certificate.
func (s *Service) VerifyCertificate(serialized []byte, signature, publicKey string) error {
	return s.boundary.VerifyWaitCertificate(serialized, signature, publicKey)
}
