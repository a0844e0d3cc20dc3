package signing

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/minio/sha256-simd"
)

var (
	ErrSigningFailed    = errors.New("couldn't sign")
	ErrSignatureInvalid = errors.New("signature is invalid")
	ErrInvalidPubkey    = errors.New("pubkey is malformed")
)

// ComponentSize is the byte length of one curve-point or signature
// component (x, y, r, s).
const ComponentSize = 32

// The native representation of keys and signatures keeps each component in
// little-endian byte order, matching the layout produced inside the trust
// boundary. The text interchange form reverses every component to
// big-endian before hex encoding.

// Signature is a native-form ECDSA signature: r then s, each
// little-endian.
type Signature [2 * ComponentSize]byte

// PublicKey is a native-form curve point: x then y, each little-endian.
type PublicKey [2 * ComponentSize]byte

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// leftPad returns b left-padded with zeros to ComponentSize bytes.
// big.Int serializations drop leading zeros; components must not.
func leftPad(b []byte) []byte {
	if len(b) >= ComponentSize {
		return b[len(b)-ComponentSize:]
	}
	out := make([]byte, ComponentSize)
	copy(out[ComponentSize-len(b):], b)
	return out
}

// GenerateKeyPair creates a fresh secp256k1 keypair.
func GenerateKeyPair() (*ecdsa.PrivateKey, error) {
	return ethcrypto.GenerateKey()
}

// KeyFromSeed derives a private key deterministically from a 32-byte seed.
func KeyFromSeed(seed []byte) (*ecdsa.PrivateKey, error) {
	return ethcrypto.ToECDSA(leftPad(seed))
}

// MarshalPrivateKeyLE serializes a private key scalar in native
// little-endian order.
func MarshalPrivateKeyLE(key *ecdsa.PrivateKey) []byte {
	return reverse(ethcrypto.FromECDSA(key))
}

// UnmarshalPrivateKeyLE reverses MarshalPrivateKeyLE.
func UnmarshalPrivateKeyLE(b []byte) (*ecdsa.PrivateKey, error) {
	if len(b) != ComponentSize {
		return nil, fmt.Errorf("%w: private key must be %d bytes, got %d", ErrInvalidPubkey, ComponentSize, len(b))
	}
	key, err := ethcrypto.ToECDSA(reverse(b))
	if err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}
	return key, nil
}

// MarshalPublicKeyLE serializes a public key in native form.
func MarshalPublicKeyLE(key *ecdsa.PublicKey) PublicKey {
	var out PublicKey
	copy(out[:ComponentSize], reverse(leftPad(key.X.Bytes())))
	copy(out[ComponentSize:], reverse(leftPad(key.Y.Bytes())))
	return out
}

// UnmarshalPublicKeyLE reverses MarshalPublicKeyLE.
func UnmarshalPublicKeyLE(native PublicKey) (*ecdsa.PublicKey, error) {
	return decodeUncompressed(reverse(native[:ComponentSize]), reverse(native[ComponentSize:]))
}

func decodeUncompressed(xBE, yBE []byte) (*ecdsa.PublicKey, error) {
	raw := make([]byte, 0, 1+2*ComponentSize)
	raw = append(raw, 0x04)
	raw = append(raw, xBE...)
	raw = append(raw, yBE...)
	key, err := ethcrypto.UnmarshalPubkey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPubkey, err)
	}
	return key, nil
}

// EncodePublicKey returns the interchange form of a public key: hex of
// both components reversed to big-endian.
func EncodePublicKey(key *ecdsa.PublicKey) string {
	xy := make([]byte, 0, 2*ComponentSize)
	xy = append(xy, leftPad(key.X.Bytes())...)
	xy = append(xy, leftPad(key.Y.Bytes())...)
	return hex.EncodeToString(xy)
}

// DecodePublicKey reverses EncodePublicKey.
func DecodePublicKey(encoded string) (*ecdsa.PublicKey, error) {
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPubkey, err)
	}
	if len(raw) != 2*ComponentSize {
		return nil, fmt.Errorf("%w: public key must be %d bytes, got %d", ErrInvalidPubkey, 2*ComponentSize, len(raw))
	}
	return decodeUncompressed(raw[:ComponentSize], raw[ComponentSize:])
}

// Sign signs the SHA-256 digest of data, returning the native form.
func Sign(data []byte, key *ecdsa.PrivateKey) (Signature, error) {
	var native Signature
	digest := sha256.Sum256(data)
	sig, err := ethcrypto.Sign(digest[:], key)
	if err != nil {
		return native, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	// Drop the recovery byte; store r and s little-endian.
	copy(native[:ComponentSize], reverse(sig[:ComponentSize]))
	copy(native[ComponentSize:], reverse(sig[ComponentSize:2*ComponentSize]))
	return native, nil
}

// Encode returns the interchange form of the signature: hex of r and s
// reversed to big-endian.
func (s Signature) Encode() string {
	be := make([]byte, 0, 2*ComponentSize)
	be = append(be, reverse(s[:ComponentSize])...)
	be = append(be, reverse(s[ComponentSize:])...)
	return hex.EncodeToString(be)
}

// DecodeSignature reverses Signature.Encode.
func DecodeSignature(encoded string) (Signature, error) {
	var native Signature
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return native, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if len(raw) != 2*ComponentSize {
		return native, fmt.Errorf("%w: signature must be %d bytes, got %d", ErrSignatureInvalid, 2*ComponentSize, len(raw))
	}
	copy(native[:ComponentSize], reverse(raw[:ComponentSize]))
	copy(native[ComponentSize:], reverse(raw[ComponentSize:]))
	return native, nil
}

// Verify checks a native-form signature over the SHA-256 digest of data.
func Verify(data []byte, sig Signature, key *ecdsa.PublicKey) error {
	digest := sha256.Sum256(data)
	be := make([]byte, 0, 2*ComponentSize)
	be = append(be, reverse(sig[:ComponentSize])...)
	be = append(be, reverse(sig[ComponentSize:])...)
	if !ethcrypto.VerifySignature(ethcrypto.FromECDSAPub(key), digest[:], be) {
		return ErrSignatureInvalid
	}
	return nil
}

// VerifyEncoded checks an interchange-form signature against an
// interchange-form public key.
func VerifyEncoded(data []byte, sigEncoded, pubEncoded string) error {
	sig, err := DecodeSignature(sigEncoded)
	if err != nil {
		return err
	}
	key, err := DecodePublicKey(pubEncoded)
	if err != nil {
		return err
	}
	return Verify(data, sig, key)
}
