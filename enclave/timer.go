package enclave

import (
	"encoding/json"
	"fmt"

	"github.com/poet-network/poet/shared"
)

// WaitTimer is the signed claim "I sampled this duration at this time for
// this chain position". It is consumed at most once by certificate
// creation; SequenceId pins it to a single replay-counter tick.
type WaitTimer struct {
	// BoundaryRequestTime is stamped from the boundary's own clock when
	// the timer is minted. The validity window is anchored to it, never
	// to the caller-supplied RequestTime.
	BoundaryRequestTime float64 `json:"BoundaryRequestTime"`
	Duration            float64 `json:"Duration"`
	LocalMean           float64 `json:"LocalMean"`
	PreviousCertID      string  `json:"PreviousCertID"`
	RequestTime         float64 `json:"RequestTime"`
	SequenceID          uint64  `json:"SequenceId"`
	ValidatorAddress    string  `json:"ValidatorAddress"`
}

// Serialize emits the canonical form the timer signature covers.
func (t *WaitTimer) Serialize() []byte {
	w := newCanonicalWriter()
	w.writeFloat("BoundaryRequestTime", t.BoundaryRequestTime)
	w.writeFloat("Duration", t.Duration)
	w.writeFloat("LocalMean", t.LocalMean)
	w.writeString("PreviousCertID", t.PreviousCertID)
	w.writeFloat("RequestTime", t.RequestTime)
	w.writeUint("SequenceId", t.SequenceID)
	w.writeString("ValidatorAddress", t.ValidatorAddress)
	return w.finish()
}

// ParseWaitTimer decodes a serialized timer. Signature verification is
// done over the original bytes by the caller, not over a re-serialization.
func ParseWaitTimer(serialized []byte) (*WaitTimer, error) {
	t := &WaitTimer{}
	if err := json.Unmarshal(serialized, t); err != nil {
		return nil, fmt.Errorf("%w: parsing wait timer: %v", shared.ErrInvalidArgument, err)
	}
	if err := shared.ValidateCertID(t.PreviousCertID); err != nil {
		return nil, err
	}
	if err := shared.ValidateValidatorAddress(t.ValidatorAddress); err != nil {
		return nil, err
	}
	return t, nil
}

// SignedTimer is a serialized timer plus its interchange-form signature.
type SignedTimer struct {
	Serialized []byte
	Signature  string
	Timer      WaitTimer
}
