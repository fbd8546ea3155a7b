package swap

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memLedger is the in-package ledger used across the module's tests. It
// mirrors the storage backends' compare-and-write semantics.
type memLedger struct {
	mu       sync.RWMutex
	accounts map[string]AccountState
}

func newMemLedger() *memLedger {
	return &memLedger{accounts: make(map[string]AccountState)}
}

func (l *memLedger) ReadAccount(id []byte) (AccountState, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	state, ok := l.accounts[string(id)]
	if !ok {
		return AccountState{}, false, nil
	}
	return AccountState{Data: append([]byte{}, state.Data...), Version: state.Version}, true, nil
}

func (l *memLedger) WriteAccountsAtomic(writes []AccountWrite) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, write := range writes {
		current := l.accounts[string(write.ID)]
		if current.Version != write.ExpectedVersion {
			return fmt.Errorf("account %q at version %d, expected %d: %w",
				write.ID, current.Version, write.ExpectedVersion, ErrStaleState)
		}
	}
	for _, write := range writes {
		l.accounts[string(write.ID)] = AccountState{
			Data:    append([]byte{}, write.Data...),
			Version: write.ExpectedVersion + 1,
		}
	}
	return nil
}

func (l *memLedger) ListAccounts(prefix []byte) ([]AccountRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	records := make([]AccountRecord, 0)
	for key, state := range l.accounts {
		if !bytes.HasPrefix([]byte(key), prefix) {
			continue
		}
		records = append(records, AccountRecord{
			ID:    []byte(key),
			State: AccountState{Data: append([]byte{}, state.Data...), Version: state.Version},
		})
	}
	sort.Slice(records, func(i, j int) bool { return bytes.Compare(records[i].ID, records[j].ID) < 0 })
	return records, nil
}

// bump rewrites an account in place, incrementing its version without going
// through the module. Tests use it to simulate a concurrent writer.
func (l *memLedger) bump(id []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, ok := l.accounts[string(id)]
	if !ok {
		return fmt.Errorf("account %q not found", id)
	}
	state.Version++
	l.accounts[string(id)] = state
	return nil
}

func fixedClock(unix int64) func() time.Time {
	return func() time.Time { return time.Unix(unix, 0) }
}
