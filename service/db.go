package service

import (
	"bytes"
	"errors"
	"fmt"

	xdr "github.com/nullstyle/go-xdr/xdr3"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/poet-network/poet/enclave"
	"github.com/poet-network/poet/shared"
)

var ErrNotFound = leveldb.ErrNotFound

// certData is the stored form of an issued certificate. Serialized holds
// the exact signed bytes so a reader can re-verify the signature.
type certData struct {
	Serialized    []byte
	Signature     string
	PoetPublicKey string
}

type database struct {
	db *leveldb.DB
}

func newDatabase(dbPath string) (*database, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database @ %s: %w", dbPath, err)
	}
	return &database{db}, nil
}

func (db *database) Close() error {
	return db.db.Close()
}

func (db *database) SaveCertificate(cert *enclave.SignedCertificate, poetPublicKey string) error {
	data := certData{
		Serialized:    cert.Serialized,
		Signature:     cert.Signature,
		PoetPublicKey: poetPublicKey,
	}
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &data); err != nil {
		return fmt.Errorf("failed serializing certificate: %w", err)
	}
	if err := db.db.Put([]byte(cert.Identifier()), buf.Bytes(), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("storing certificate in DB: %w", err)
	}
	return nil
}

func (db *database) GetCertificate(id string) (*enclave.SignedCertificate, string, error) {
	raw, err := db.db.Get([]byte(id), nil)
	if err != nil {
		return nil, "", fmt.Errorf("get certificate %s from DB: %w", id, err)
	}

	data := &certData{}
	if _, err := xdr.Unmarshal(bytes.NewReader(raw), data); err != nil {
		return nil, "", fmt.Errorf("failed to deserialize: %v", err)
	}
	cert, err := enclave.ParseWaitCertificate(data.Serialized)
	if err != nil {
		return nil, "", err
	}
	return &enclave.SignedCertificate{
		Serialized:  data.Serialized,
		Signature:   data.Signature,
		Certificate: *cert,
	}, data.PoetPublicKey, nil
}

// GetChain walks the certificate chain backwards from the given
// identifier, newest first, stopping at genesis or after limit entries.
func (db *database) GetChain(fromID string, limit int) ([]*enclave.SignedCertificate, error) {
	chain := make([]*enclave.SignedCertificate, 0, limit)
	id := fromID
	for len(chain) < limit && id != shared.NullIdentifier {
		cert, _, err := db.GetCertificate(id)
		switch {
		case errors.Is(err, ErrNotFound):
			return chain, nil
		case err != nil:
			return nil, err
		}
		chain = append(chain, cert)
		id = cert.Certificate.PreviousCertID
	}
	return chain, nil
}
