package enclave

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/poet-network/poet/shared"
)

// CounterStore holds the boundary's monotonic replay counters, keyed by
// the counter ID embedded in sealed identities. Destroying a counter
// permanently retires every identity that references it.
//
// A hardware boundary keeps these in rollback-protected storage; the
// store below provides the same interface on leveldb with synced writes.
type CounterStore struct {
	db *leveldb.DB
}

var syncedWrite = &opt.WriteOptions{Sync: true}

func OpenCounterStore(path string) (*CounterStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: opening counter store @ %s: %v", shared.ErrSystemFailure, path, err)
	}
	return &CounterStore{db: db}, nil
}

func (s *CounterStore) Close() error {
	return s.db.Close()
}

// Create allocates a fresh counter initialized to zero.
func (s *CounterStore) Create() (uuid.UUID, error) {
	id := uuid.New()
	if err := s.db.Put(id[:], encodeCounter(0), syncedWrite); err != nil {
		return uuid.Nil, fmt.Errorf("%w: creating counter: %v", shared.ErrSystemFailure, err)
	}
	return id, nil
}

// Read returns the current counter value. A missing counter means the
// identity referencing it has been retired.
func (s *CounterStore) Read(id uuid.UUID) (uint64, error) {
	raw, err := s.db.Get(id[:], nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, fmt.Errorf("%w: counter %s does not exist", shared.ErrIntegrity, id)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: reading counter: %v", shared.ErrSystemFailure, err)
	}
	return decodeCounter(raw)
}

// Increment advances the counter by one and returns the new value.
func (s *CounterStore) Increment(id uuid.UUID) (uint64, error) {
	value, err := s.Read(id)
	if err != nil {
		return 0, err
	}
	value++
	if err := s.db.Put(id[:], encodeCounter(value), syncedWrite); err != nil {
		return 0, fmt.Errorf("%w: advancing counter: %v", shared.ErrSystemFailure, err)
	}
	return value, nil
}

// Destroy removes the counter. Destroying an already-destroyed counter
// reports an integrity failure, matching Read.
func (s *CounterStore) Destroy(id uuid.UUID) error {
	if _, err := s.Read(id); err != nil {
		return err
	}
	if err := s.db.Delete(id[:], syncedWrite); err != nil {
		return fmt.Errorf("%w: destroying counter: %v", shared.ErrSystemFailure, err)
	}
	return nil
}

func encodeCounter(value uint64) []byte {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, value)
	return raw
}

func decodeCounter(raw []byte) (uint64, error) {
	if len(raw) != 8 {
		return 0, fmt.Errorf("%w: counter record has length %d", shared.ErrSystemFailure, len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}
