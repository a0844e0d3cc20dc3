package service

import (
	"path/filepath"

	"github.com/poet-network/poet/util"
)

const serviceStateFileBaseName = "state.bin"

// serviceState is the durable part of a validator's identity. Sealed is
// opaque to everyone but the trust boundary that produced it.
type serviceState struct {
	Sealed        []byte
	PoetPublicKey string
	LastCertID    string
}

func saveState(datadir string, v *serviceState) error {
	return util.Persist(filepath.Join(datadir, serviceStateFileBaseName), v)
}

func loadState(datadir string) (*serviceState, error) {
	v := &serviceState{}
	if err := util.Load(filepath.Join(datadir, serviceStateFileBaseName), v); err != nil {
		return nil, err
	}
	return v, nil
}
