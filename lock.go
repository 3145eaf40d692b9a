package notary

import (
	"sort"
	"sync"
)

// lockTable hands out one mutex per key. Entries are reference counted and
// dropped once nobody holds or waits on them.
type lockTable struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{entries: map[string]*lockEntry{}}
}

func (t *lockTable) lock(key string) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok {
		e = &lockEntry{}
		t.entries[key] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()
}

func (t *lockTable) unlock(key string) {
	t.mu.Lock()
	e := t.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(t.entries, key)
	}
	t.mu.Unlock()

	e.mu.Unlock()
}

// Lease is a set of held locks, released in reverse acquisition order.
type Lease struct {
	table *lockTable
	keys  []string
}

// Acquire locks client contexts, then accounts, then the accounts'
// ledgers, each group in ascending id order.
func (t *lockTable) Acquire(nyms, accounts []string) *Lease {
	nyms = uniqueSorted(nyms)
	accounts = uniqueSorted(accounts)

	keys := make([]string, 0, len(nyms)+2*len(accounts))
	for _, id := range nyms {
		keys = append(keys, "nym:"+id)
	}
	for _, id := range accounts {
		keys = append(keys, "account:"+id)
	}
	for _, id := range accounts {
		keys = append(keys, "ledger:"+id)
	}

	for _, key := range keys {
		t.lock(key)
	}

	return &Lease{table: t, keys: keys}
}

func (l *Lease) Release() {
	for i := len(l.keys) - 1; i >= 0; i-- {
		l.table.unlock(l.keys[i])
	}

	l.keys = nil
}

// Holds reports whether the lease covers the account.
func (l *Lease) Holds(accountID string) bool {
	return l.has("account:" + accountID)
}

func (l *Lease) HoldsNym(nymID string) bool {
	return l.has("nym:" + nymID)
}

func (l *Lease) has(key string) bool {
	for _, k := range l.keys {
		if k == key {
			return true
		}
	}

	return false
}

func uniqueSorted(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := map[string]bool{}
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}

		seen[id] = true
		out = append(out, id)
	}

	sort.Strings(out)
	return out
}
