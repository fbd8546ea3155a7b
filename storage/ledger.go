package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	swap "swapnet/native/swap"
)

// MemLedger is an in-memory account ledger with optimistic-concurrency
// writes, used for tests and single-process development.
type MemLedger struct {
	mu       sync.RWMutex
	accounts map[string]swap.AccountState
}

// NewMemLedger constructs an empty in-memory ledger.
func NewMemLedger() *MemLedger {
	return &MemLedger{accounts: make(map[string]swap.AccountState)}
}

// ReadAccount returns the current state of the account.
func (l *MemLedger) ReadAccount(id []byte) (swap.AccountState, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	state, ok := l.accounts[string(id)]
	if !ok {
		return swap.AccountState{}, false, nil
	}
	return swap.AccountState{Data: append([]byte{}, state.Data...), Version: state.Version}, true, nil
}

// WriteAccountsAtomic applies the batch if and only if every expected
// version matches the stored one.
func (l *MemLedger) WriteAccountsAtomic(writes []swap.AccountWrite) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, write := range writes {
		current := l.accounts[string(write.ID)]
		if current.Version != write.ExpectedVersion {
			return fmt.Errorf("ledger: account %q at version %d, expected %d: %w",
				write.ID, current.Version, write.ExpectedVersion, swap.ErrStaleState)
		}
	}
	for _, write := range writes {
		l.accounts[string(write.ID)] = swap.AccountState{
			Data:    append([]byte{}, write.Data...),
			Version: write.ExpectedVersion + 1,
		}
	}
	return nil
}

// ListAccounts returns all accounts under the prefix in key order.
func (l *MemLedger) ListAccounts(prefix []byte) ([]swap.AccountRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	records := make([]swap.AccountRecord, 0)
	for key, state := range l.accounts {
		if !bytes.HasPrefix([]byte(key), prefix) {
			continue
		}
		records = append(records, swap.AccountRecord{
			ID:    []byte(key),
			State: swap.AccountState{Data: append([]byte{}, state.Data...), Version: state.Version},
		})
	}
	sort.Slice(records, func(i, j int) bool { return bytes.Compare(records[i].ID, records[j].ID) < 0 })
	return records, nil
}

// LevelLedger is a persistent account ledger backed by LevelDB. Versions are
// stored in an 8-byte big-endian header ahead of the record payload, and a
// process-wide mutex makes each write batch atomic with respect to readers.
type LevelLedger struct {
	mu sync.RWMutex
	db *leveldb.DB
}

// OpenLevelLedger creates or opens a ledger database at the given path.
func OpenLevelLedger(path string) (*LevelLedger, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return &LevelLedger{db: db}, nil
}

// Close releases the underlying database.
func (l *LevelLedger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func decodeStored(raw []byte) (swap.AccountState, error) {
	if len(raw) < 8 {
		return swap.AccountState{}, fmt.Errorf("ledger: truncated account record")
	}
	return swap.AccountState{
		Version: binary.BigEndian.Uint64(raw[:8]),
		Data:    append([]byte{}, raw[8:]...),
	}, nil
}

func encodeStored(version uint64, data []byte) []byte {
	buf := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(buf[:8], version)
	copy(buf[8:], data)
	return buf
}

// ReadAccount returns the current state of the account.
func (l *LevelLedger) ReadAccount(id []byte) (swap.AccountState, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	raw, err := l.db.Get(id, nil)
	if err == leveldb.ErrNotFound {
		return swap.AccountState{}, false, nil
	}
	if err != nil {
		return swap.AccountState{}, false, fmt.Errorf("read account: %w", err)
	}
	state, err := decodeStored(raw)
	if err != nil {
		return swap.AccountState{}, false, err
	}
	return state, true, nil
}

// WriteAccountsAtomic verifies every expected version under the write lock
// and applies the batch in a single LevelDB write.
func (l *LevelLedger) WriteAccountsAtomic(writes []swap.AccountWrite) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := new(leveldb.Batch)
	for _, write := range writes {
		var current uint64
		raw, err := l.db.Get(write.ID, nil)
		switch err {
		case nil:
			state, err := decodeStored(raw)
			if err != nil {
				return err
			}
			current = state.Version
		case leveldb.ErrNotFound:
			current = 0
		default:
			return fmt.Errorf("read account: %w", err)
		}
		if current != write.ExpectedVersion {
			return fmt.Errorf("ledger: account %q at version %d, expected %d: %w",
				write.ID, current, write.ExpectedVersion, swap.ErrStaleState)
		}
		batch.Put(write.ID, encodeStored(write.ExpectedVersion+1, write.Data))
	}
	if err := l.db.Write(batch, nil); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}

// ListAccounts returns all accounts under the prefix in key order.
func (l *LevelLedger) ListAccounts(prefix []byte) ([]swap.AccountRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	iter := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	records := make([]swap.AccountRecord, 0)
	for iter.Next() {
		state, err := decodeStored(iter.Value())
		if err != nil {
			return nil, err
		}
		records = append(records, swap.AccountRecord{
			ID:    append([]byte{}, iter.Key()...),
			State: state,
		})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return records, nil
}
