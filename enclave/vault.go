package enclave

import (
	"bytes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/minio/sha256-simd"
	xdr "github.com/nullstyle/go-xdr/xdr3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/poet-network/poet/shared"
	"github.com/poet-network/poet/signing"
)

const (
	masterKeyFilename = "boundary.key"
	countersDirname   = "counters"
	masterKeySize     = 32
	counterIDSize     = 16
	labelSealing      = "poet identity sealing"
	labelDurationMAC  = "poet duration sampling"
	derivedKeySize    = 32
)

// Wipe zeroes a sensitive buffer. Callers defer it so secrets are cleared
// on every exit path.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// identityPayload is the cleartext layout of a sealed identity. It never
// leaves the vault unsealed.
type identityPayload struct {
	PrivateKey []byte // little-endian scalar
	PublicKey  []byte // little-endian x || y
	CounterID  []byte
}

// Identity is an opened identity record. It lives only inside a boundary
// backend for the duration of one call.
type Identity struct {
	key       *ecdsa.PrivateKey
	counterID uuid.UUID
}

// PublicKey returns the interchange-form public key.
func (id *Identity) PublicKey() string {
	return signing.EncodePublicKey(&id.key.PublicKey)
}

// Sign returns the interchange-form signature over data.
func (id *Identity) Sign(data []byte) (string, error) {
	sig, err := signing.Sign(data, id.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrSystemFailure, err)
	}
	return sig.Encode(), nil
}

// Verify checks an interchange-form signature against this identity's own
// public key.
func (id *Identity) Verify(data []byte, sigEncoded string) error {
	return signing.VerifyEncoded(data, sigEncoded, id.PublicKey())
}

// Vault owns the boundary-private key material: the sealing AEAD, the
// duration MAC key and the replay counter store.
type Vault struct {
	aead        cipher.AEAD
	durationKey []byte
	counters    *CounterStore
}

func OpenVault(dataDir string) (*Vault, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: creating boundary data dir: %v", shared.ErrSystemFailure, err)
	}
	master, err := loadOrCreateMasterKey(filepath.Join(dataDir, masterKeyFilename))
	if err != nil {
		return nil, err
	}
	defer Wipe(master)

	sealKey, err := deriveKey(master, labelSealing)
	if err != nil {
		return nil, err
	}
	defer Wipe(sealKey)
	aead, err := chacha20poly1305.NewX(sealKey)
	if err != nil {
		return nil, fmt.Errorf("%w: constructing sealing cipher: %v", shared.ErrSystemFailure, err)
	}

	durationKey, err := deriveKey(master, labelDurationMAC)
	if err != nil {
		return nil, err
	}

	counters, err := OpenCounterStore(filepath.Join(dataDir, countersDirname))
	if err != nil {
		Wipe(durationKey)
		return nil, err
	}

	return &Vault{aead: aead, durationKey: durationKey, counters: counters}, nil
}

func (v *Vault) Close() error {
	Wipe(v.durationKey)
	return v.counters.Close()
}

// DurationKey is the boundary secret used by keyed-MAC duration
// derivation. It never crosses the boundary.
func (v *Vault) DurationKey() []byte {
	return v.durationKey
}

// NewIdentity generates a keypair plus a zero-valued replay counter and
// returns the opened identity together with its sealed form.
func (v *Vault) NewIdentity() (*Identity, SealedData, error) {
	key, err := signing.GenerateKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: generating identity keypair: %v", shared.ErrSystemFailure, err)
	}
	counterID, err := v.counters.Create()
	if err != nil {
		return nil, nil, err
	}
	id := &Identity{key: key, counterID: counterID}
	sealed, err := v.seal(id)
	if err != nil {
		return nil, nil, err
	}
	return id, sealed, nil
}

// Open unseals an identity and confirms its replay counter still exists.
// A missing counter means the identity was retired.
func (v *Vault) Open(sealed SealedData) (*Identity, error) {
	nonceSize := v.aead.NonceSize()
	if len(sealed) <= nonceSize {
		return nil, fmt.Errorf("%w: sealed identity blob is truncated", shared.ErrInvalidArgument)
	}
	plain, err := v.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: sealed identity blob failed authentication", shared.ErrInvalidArgument)
	}
	defer Wipe(plain)

	payload := identityPayload{}
	if _, err := xdr.Unmarshal(bytes.NewReader(plain), &payload); err != nil {
		return nil, fmt.Errorf("%w: sealed identity blob is malformed", shared.ErrInvalidArgument)
	}
	defer Wipe(payload.PrivateKey)

	key, err := signing.UnmarshalPrivateKeyLE(payload.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: sealed identity key is malformed", shared.ErrInvalidArgument)
	}
	if len(payload.CounterID) != counterIDSize {
		return nil, fmt.Errorf("%w: sealed identity counter reference is malformed", shared.ErrInvalidArgument)
	}
	var counterID uuid.UUID
	copy(counterID[:], payload.CounterID)

	if _, err := v.counters.Read(counterID); err != nil {
		return nil, err
	}
	return &Identity{key: key, counterID: counterID}, nil
}

// CounterValue reads the identity's replay counter.
func (v *Vault) CounterValue(id *Identity) (uint64, error) {
	return v.counters.Read(id.counterID)
}

// AdvanceCounter increments the identity's replay counter and returns the
// new value.
func (v *Vault) AdvanceCounter(id *Identity) (uint64, error) {
	return v.counters.Increment(id.counterID)
}

// ReleaseIdentity destroys the identity's replay counter.
func (v *Vault) ReleaseIdentity(id *Identity) error {
	return v.counters.Destroy(id.counterID)
}

func (v *Vault) seal(id *Identity) (SealedData, error) {
	pub := signing.MarshalPublicKeyLE(&id.key.PublicKey)
	payload := identityPayload{
		PrivateKey: signing.MarshalPrivateKeyLE(id.key),
		PublicKey:  pub[:],
		CounterID:  id.counterID[:],
	}
	defer Wipe(payload.PrivateKey)

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &payload); err != nil {
		return nil, fmt.Errorf("%w: serializing identity: %v", shared.ErrSystemFailure, err)
	}
	plain := buf.Bytes()
	defer Wipe(plain)

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: sampling sealing nonce: %v", shared.ErrSystemFailure, err)
	}
	return SealedData(v.aead.Seal(nonce, nonce, plain, nil)), nil
}

func deriveKey(master []byte, label string) ([]byte, error) {
	key := make([]byte, derivedKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(label)), key); err != nil {
		return nil, fmt.Errorf("%w: deriving %q key: %v", shared.ErrSystemFailure, label, err)
	}
	return key, nil
}

func loadOrCreateMasterKey(path string) ([]byte, error) {
	master, err := os.ReadFile(path) //#nosec G304
	if err == nil {
		if len(master) != masterKeySize {
			return nil, fmt.Errorf("%w: master key file %s has length %d", shared.ErrSystemFailure, path, len(master))
		}
		return master, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: reading master key: %v", shared.ErrSystemFailure, err)
	}

	master = make([]byte, masterKeySize)
	if _, err := rand.Read(master); err != nil {
		return nil, fmt.Errorf("%w: sampling master key: %v", shared.ErrSystemFailure, err)
	}
	if err := os.WriteFile(path, master, 0o600); err != nil {
		return nil, fmt.Errorf("%w: writing master key: %v", shared.ErrSystemFailure, err)
	}
	return master, nil
}
