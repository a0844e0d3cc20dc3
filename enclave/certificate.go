package enclave

import (
	"encoding/json"
	"fmt"

	"github.com/poet-network/poet/shared"
	"github.com/poet-network/poet/signing"
)

// WaitCertificate is the consensus artifact: proof that its signer held an
// expired, unconsumed timer for the referenced chain position.
type WaitCertificate struct {
	BlockHash        string  `json:"BlockHash"`
	Duration         float64 `json:"Duration"`
	LocalMean        float64 `json:"LocalMean"`
	Nonce            string  `json:"Nonce"`
	PreviousCertID   string  `json:"PreviousCertID"`
	RequestTime      float64 `json:"RequestTime"`
	ValidatorAddress string  `json:"ValidatorAddress"`
}

// Serialize emits the canonical form the certificate signature covers.
func (c *WaitCertificate) Serialize() []byte {
	w := newCanonicalWriter()
	w.writeString("BlockHash", c.BlockHash)
	w.writeFloat("Duration", c.Duration)
	w.writeFloat("LocalMean", c.LocalMean)
	w.writeString("Nonce", c.Nonce)
	w.writeString("PreviousCertID", c.PreviousCertID)
	w.writeFloat("RequestTime", c.RequestTime)
	w.writeString("ValidatorAddress", c.ValidatorAddress)
	return w.finish()
}

// ParseWaitCertificate decodes a serialized certificate.
func ParseWaitCertificate(serialized []byte) (*WaitCertificate, error) {
	c := &WaitCertificate{}
	if err := json.Unmarshal(serialized, c); err != nil {
		return nil, fmt.Errorf("%w: parsing wait certificate: %v", shared.ErrInvalidArgument, err)
	}
	if err := shared.ValidateCertID(c.PreviousCertID); err != nil {
		return nil, err
	}
	return c, nil
}

// SignedCertificate is a serialized certificate plus its interchange-form
// signature.
type SignedCertificate struct {
	Serialized  []byte
	Signature   string
	Certificate WaitCertificate
}

// Identifier derives the value the next certificate in the chain uses as
// its PreviousCertID.
func (c *SignedCertificate) Identifier() string {
	return shared.CertificateID(c.Signature)
}

// VerifyWaitCertificate checks a received certificate against the claimed
// signer. The signature is verified over the received bytes, never over a
// re-serialization, so peers with different float formatting still agree.
func VerifyWaitCertificate(serializedCert []byte, signature, publicKey string) error {
	if _, err := ParseWaitCertificate(serializedCert); err != nil {
		return err
	}
	if err := signing.VerifyEncoded(serializedCert, signature, publicKey); err != nil {
		return fmt.Errorf("%w: wait certificate signature does not verify", shared.ErrInvalidArgument)
	}
	return nil
}
