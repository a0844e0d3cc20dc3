package enclave

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/sha256-simd"

	"github.com/poet-network/poet/shared"
	"github.com/poet-network/poet/signing"
)

// The simulated attestation chain: a fixed-layout pseudo quote binds the
// signup public key to the originator commitment, a verification report
// wraps the quote, and a well-known report key signs the report. The key
// is derived from a public seed, so the evidence proves format compliance
// and binding, not hardware provenance.

const (
	reportDataSize     = 64
	evidenceNonceSize  = 16
	quoteStatusOK      = "OK"
	reportKeySeedLabel = "poet verification report key"
	measurementLabel   = "poet trust boundary measurement"
	basenameLabel      = "poet trust boundary basename"
)

var (
	reportKeySeed = sha256.Sum256([]byte(reportKeySeedLabel))

	// Measurement identifies the boundary code; Basename identifies the
	// signing domain. Peers reject quotes carrying any other values.
	Measurement = sha256.Sum256([]byte(measurementLabel))
	Basename    = sha256.Sum256([]byte(basenameLabel))
)

type pseudoQuote struct {
	Basename    [sha256.Size]byte
	Measurement [sha256.Size]byte
	ReportData  [reportDataSize]byte
}

func (q *pseudoQuote) encode() string {
	var buf bytes.Buffer
	// Fixed-size fields only, so this cannot fail.
	_ = binary.Write(&buf, binary.LittleEndian, q)
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func decodePseudoQuote(encoded string) (*pseudoQuote, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: quote body is not valid base64", shared.ErrInvalidArgument)
	}
	q := &pseudoQuote{}
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, q); err != nil {
		return nil, fmt.Errorf("%w: quote body is malformed", shared.ErrInvalidArgument)
	}
	return q, nil
}

// VerificationReport is the signed statement wrapping a quote. Serialized
// with the canonical writer so signatures are byte-stable.
type VerificationReport struct {
	AntiSybilID           string `json:"AntiSybilId"`
	IsvEnclaveQuoteBody   string `json:"IsvEnclaveQuoteBody"`
	IsvEnclaveQuoteStatus string `json:"IsvEnclaveQuoteStatus"`
	Nonce                 string `json:"Nonce"`
	Timestamp             string `json:"Timestamp"`
}

func (r *VerificationReport) serialize() []byte {
	w := newCanonicalWriter()
	w.writeString("AntiSybilId", r.AntiSybilID)
	w.writeString("IsvEnclaveQuoteBody", r.IsvEnclaveQuoteBody)
	w.writeString("IsvEnclaveQuoteStatus", r.IsvEnclaveQuoteStatus)
	w.writeString("Nonce", r.Nonce)
	w.writeString("Timestamp", r.Timestamp)
	return w.finish()
}

type proofData struct {
	Signature          string `json:"signature"`
	VerificationReport string `json:"verification_report"`
}

// BuildSignupEvidence produces the proof bundle for a fresh signup. The
// report data carries the commitment binding in its first half.
func BuildSignupEvidence(originatorCommitment, publicKey, antiSybilID string, now time.Time) (*AttestationEvidence, error) {
	binding := ReportBinding(originatorCommitment, publicKey)
	quote := &pseudoQuote{Basename: Basename, Measurement: Measurement}
	copy(quote.ReportData[:sha256.Size], binding[:])

	nonce := make([]byte, evidenceNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: sampling evidence nonce: %v", shared.ErrSystemFailure, err)
	}

	report := &VerificationReport{
		AntiSybilID:           antiSybilID,
		IsvEnclaveQuoteBody:   quote.encode(),
		IsvEnclaveQuoteStatus: quoteStatusOK,
		Nonce:                 hex.EncodeToString(nonce),
		Timestamp:             now.UTC().Format(time.RFC3339),
	}
	serialized := report.serialize()

	reportKey, err := signing.KeyFromSeed(reportKeySeed[:])
	if err != nil {
		return nil, fmt.Errorf("%w: deriving report key: %v", shared.ErrSystemFailure, err)
	}
	sig, err := signing.Sign(serialized, reportKey)
	if err != nil {
		return nil, fmt.Errorf("%w: signing verification report: %v", shared.ErrSystemFailure, err)
	}

	proof, err := json.Marshal(proofData{
		Signature:          sig.Encode(),
		VerificationReport: string(serialized),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding proof data: %v", shared.ErrSystemFailure, err)
	}
	return &AttestationEvidence{ProofData: string(proof), AntiSybilID: antiSybilID}, nil
}

// VerifySignupEvidence checks a peer's signup proof bundle. It recomputes
// the commitment binding rather than trusting any claimed value.
func VerifySignupEvidence(originatorCommitment, publicKey string, evidence *AttestationEvidence) error {
	if err := shared.ValidateCommitment(originatorCommitment); err != nil {
		return err
	}
	if evidence == nil {
		return fmt.Errorf("%w: signup evidence is missing", shared.ErrInvalidArgument)
	}

	proof := proofData{}
	if err := json.Unmarshal([]byte(evidence.ProofData), &proof); err != nil {
		return fmt.Errorf("%w: proof data is malformed", shared.ErrInvalidArgument)
	}

	reportKey, err := signing.KeyFromSeed(reportKeySeed[:])
	if err != nil {
		return fmt.Errorf("%w: deriving report key: %v", shared.ErrSystemFailure, err)
	}
	reportPub := signing.EncodePublicKey(&reportKey.PublicKey)
	if err := signing.VerifyEncoded([]byte(proof.VerificationReport), proof.Signature, reportPub); err != nil {
		return fmt.Errorf("%w: verification report signature does not verify", shared.ErrInvalidArgument)
	}

	report := VerificationReport{}
	if err := json.Unmarshal([]byte(proof.VerificationReport), &report); err != nil {
		return fmt.Errorf("%w: verification report is malformed", shared.ErrInvalidArgument)
	}
	if report.IsvEnclaveQuoteStatus != quoteStatusOK {
		return fmt.Errorf("%w: quote status %q", shared.ErrInvalidArgument, report.IsvEnclaveQuoteStatus)
	}
	if report.AntiSybilID != evidence.AntiSybilID {
		return fmt.Errorf("%w: anti-Sybil id does not match verification report", shared.ErrInvalidArgument)
	}

	quote, err := decodePseudoQuote(report.IsvEnclaveQuoteBody)
	if err != nil {
		return err
	}
	if quote.Basename != Basename {
		return fmt.Errorf("%w: quote basename does not match this boundary", shared.ErrInvalidArgument)
	}
	if quote.Measurement != Measurement {
		return fmt.Errorf("%w: quote measurement does not match this boundary", shared.ErrInvalidArgument)
	}

	binding := ReportBinding(originatorCommitment, publicKey)
	if !bytes.Equal(quote.ReportData[:sha256.Size], binding[:]) {
		return fmt.Errorf("%w: report data does not bind the claimed key to the commitment", shared.ErrInvalidArgument)
	}
	return nil
}
