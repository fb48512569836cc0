package shielded

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/colorfulnotion/orchardwallet/common"
	"github.com/colorfulnotion/orchardwallet/log"
	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	commitmentPrefix = "cm_"
	nullifierPrefix  = "nf_"
	stateKey         = "wallet_state"
)

// CommitmentEntry captures a journaled commitment and its position.
type CommitmentEntry struct {
	Position   uint64
	Commitment common.Hash
}

// NullifierEntry is a journaled nullifier with the ledger and transaction
// that revealed it.
type NullifierEntry struct {
	Nullifier common.Hash
	LedgerSeq uint32
	TxID      common.Hash
}

const nullifierValueLength = 4 + common.HashLength

// Store persists the wallet state blob next to a journal of every
// commitment and nullifier the wallet has observed.
type Store struct {
	db   *leveldb.DB
	path string
}

// Open opens or creates the store at path. An empty path keeps everything
// in memory.
func Open(path string) (*Store, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open shielded store: %w", err)
	}
	log.Debug(log.Store, "Opened shielded store", "path", path)
	return &Store{db: db, path: path}, nil
}

// PutState stores the serialized wallet state.
func (s *Store) PutState(blob []byte) error {
	return s.db.Put([]byte(stateKey), blob, nil)
}

// GetState returns the serialized wallet state, or found=false when none
// has been written.
func (s *Store) GetState() ([]byte, bool, error) {
	blob, err := s.db.Get([]byte(stateKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return blob, true, nil
}

// AddCommitments journals consecutive commitments starting at first in one
// batch.
func (s *Store) AddCommitments(first uint64, commitments []common.Hash) error {
	batch := new(leveldb.Batch)
	for i, cm := range commitments {
		batch.Put(commitmentKey(first+uint64(i)), cm[:])
	}
	return s.db.Write(batch, nil)
}

// AddNullifier journals a nullifier revealed by txID in ledgerSeq. A later
// reveal of the same nullifier replaces the earlier entry.
func (s *Store) AddNullifier(nullifier common.Hash, ledgerSeq uint32, txID common.Hash) error {
	var value [nullifierValueLength]byte
	binary.LittleEndian.PutUint32(value[:4], ledgerSeq)
	copy(value[4:], txID[:])
	return s.db.Put(nullifierKey(nullifier), value[:], nil)
}

// IsNullifierSpent reports whether a nullifier has been journaled as
// revealed by a transaction other than except.
func (s *Store) IsNullifierSpent(nullifier common.Hash, except common.Hash) (bool, error) {
	value, err := s.db.Get(nullifierKey(nullifier), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(value) != nullifierValueLength {
		return false, fmt.Errorf("nullifier %s: malformed journal entry of %d bytes", nullifier.Hex(), len(value))
	}
	return common.BytesToHash(value[4:]) != except, nil
}

// ListCommitments returns all journaled commitments ordered by position.
func (s *Store) ListCommitments() ([]CommitmentEntry, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(commitmentPrefix)), nil)
	defer iter.Release()

	entries := make([]CommitmentEntry, 0)
	for iter.Next() {
		pos, err := parseCommitmentPosition(string(iter.Key()))
		if err != nil {
			log.Warn(log.Store, "Skipping malformed commitment key", "key", string(iter.Key()), "err", err)
			continue
		}
		entries = append(entries, CommitmentEntry{
			Position:   pos,
			Commitment: common.BytesToHash(iter.Value()),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Position < entries[j].Position
	})
	return entries, nil
}

// ListNullifiers returns all journaled nullifiers.
func (s *Store) ListNullifiers() ([]NullifierEntry, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(nullifierPrefix)), nil)
	defer iter.Release()

	var out []NullifierEntry
	for iter.Next() {
		nf, err := parseNullifierKey(string(iter.Key()))
		value := iter.Value()
		if err != nil || len(value) != nullifierValueLength {
			log.Warn(log.Store, "Skipping malformed nullifier entry", "key", string(iter.Key()))
			continue
		}
		out = append(out, NullifierEntry{
			Nullifier: nf,
			LedgerSeq: binary.LittleEndian.Uint32(value[:4]),
			TxID:      common.BytesToHash(value[4:]),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// Clear removes the journal and the state blob.
func (s *Store) Clear() error {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return err
	}
	log.Info(log.Store, "Cleared shielded store", "path", s.path, "entries", batch.Len())
	return s.db.Write(batch, nil)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func commitmentKey(position uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", commitmentPrefix, position))
}

func nullifierKey(nullifier common.Hash) []byte {
	return []byte(nullifierPrefix + hex.EncodeToString(nullifier[:]))
}

func parseCommitmentPosition(key string) (uint64, error) {
	if !strings.HasPrefix(key, commitmentPrefix) {
		return 0, fmt.Errorf("invalid commitment key")
	}
	return strconv.ParseUint(strings.TrimPrefix(key, commitmentPrefix), 10, 64)
}

func parseNullifierKey(key string) (common.Hash, error) {
	if !strings.HasPrefix(key, nullifierPrefix) {
		return common.Hash{}, fmt.Errorf("invalid nullifier key")
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(key, nullifierPrefix))
	if err != nil || len(decoded) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid nullifier key")
	}
	return common.BytesToHash(decoded), nil
}
