package registration

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/poet-network/poet/enclave"
	"github.com/poet-network/poet/logging"
	"github.com/poet-network/poet/shared"
)

// SignupInfo is the exportable signup document a validator publishes. It
// carries no secret material.
type SignupInfo struct {
	PoetPublicKey string `json:"poet_public_key"`
	ProofData     string `json:"proof_data"`
	AntiSybilID   string `json:"anti_sybil_id"`
}

func (s *SignupInfo) Serialize() ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: serializing signup info: %v", shared.ErrSystemFailure, err)
	}
	return raw, nil
}

func ParseSignupInfo(serialized []byte) (*SignupInfo, error) {
	info := &SignupInfo{}
	if err := json.Unmarshal(serialized, info); err != nil {
		return nil, fmt.Errorf("%w: parsing signup info: %v", shared.ErrInvalidArgument, err)
	}
	if info.PoetPublicKey == "" {
		return nil, fmt.Errorf("%w: signup info is missing the public key", shared.ErrInvalidArgument)
	}
	if info.ProofData == "" {
		return nil, fmt.Errorf("%w: signup info is missing proof data", shared.ErrInvalidArgument)
	}
	return info, nil
}

// Registrar drives signup against a trust boundary.
type Registrar struct {
	boundary enclave.TrustBoundary
}

func NewRegistrar(boundary enclave.TrustBoundary) *Registrar {
	return &Registrar{boundary: boundary}
}

// CreateSignupInfo establishes a fresh identity bound to the originator
// commitment. The returned sealed blob must be persisted by the caller;
// losing it retires the identity.
func (r *Registrar) CreateSignupInfo(ctx context.Context, originatorCommitment string) (*SignupInfo, enclave.SealedData, error) {
	// Reject malformed commitments before they reach the boundary.
	if err := shared.ValidateCommitment(originatorCommitment); err != nil {
		return nil, nil, err
	}

	data, err := r.boundary.CreateSignupData(ctx, originatorCommitment)
	if err != nil {
		return nil, nil, err
	}
	logging.FromContext(ctx).Info("created signup info",
		zap.String("poet_public_key", data.PublicKey),
		zap.String("anti_sybil_id", data.Evidence.AntiSybilID),
	)

	info := &SignupInfo{
		PoetPublicKey: data.PublicKey,
		ProofData:     data.Evidence.ProofData,
		AntiSybilID:   data.Evidence.AntiSybilID,
	}
	return info, data.Sealed, nil
}

// VerifySignupInfo checks a peer's signup document against its claimed
// originator commitment.
func (r *Registrar) VerifySignupInfo(ctx context.Context, originatorCommitment string, info *SignupInfo) error {
	if info == nil {
		return fmt.Errorf("%w: signup info is missing", shared.ErrInvalidArgument)
	}
	evidence := &enclave.AttestationEvidence{
		ProofData:   info.ProofData,
		AntiSybilID: info.AntiSybilID,
	}
	return r.boundary.VerifySignupInfo(ctx, originatorCommitment, info.PoetPublicKey, evidence)
}
