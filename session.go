package notary

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
)

type ledgerID struct {
	owner string
	kind  LedgerKind
}

// session stages every mutation of one notarization or cron run in a single
// badger transaction opened under a lease. Nothing is visible until commit,
// so an aborted session leaves no partial state behind.
type session struct {
	n     *Notary
	txn   *badger.Txn
	lease *Lease
	now   time.Time

	accounts map[string]*Account
	contexts map[string]*ClientContext
	ledgers  map[ledgerID]*Ledger
	dirty    map[string]bool
	dirtyCtx map[string]bool
	touched  map[string]bool
	after    []func()
}

func newSession(n *Notary, txn *badger.Txn, lease *Lease, now time.Time) *session {
	return &session{
		n:        n,
		txn:      txn,
		lease:    lease,
		now:      now,
		accounts: map[string]*Account{},
		contexts: map[string]*ClientContext{},
		ledgers:  map[ledgerID]*Ledger{},
		dirty:    map[string]bool{},
		dirtyCtx: map[string]bool{},
		touched:  map[string]bool{},
	}
}

func (s *session) account(id string) (*Account, error) {
	if a, ok := s.accounts[id]; ok {
		return a, nil
	}

	if !s.lease.Holds(id) {
		return nil, fmt.Errorf("account %s is not held by the lease", id)
	}

	a, err := findAccount(s.txn, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, validation(ReasonUnknownAccount, "account %s not found", id)
		}

		return nil, err
	}

	s.accounts[id] = a
	return a, nil
}

func (s *session) changed(a *Account) {
	a.UpdatedAt = s.now
	s.dirty[a.ID] = true
	s.touched[a.ID] = true
}

// move shifts funds between two held accounts of the same unit. Nothing
// changes when either balance would leave the int64 range.
func (s *session) move(from, to *Account, amount int64) error {
	if amount < 0 {
		return validation(ReasonInvalidAmount, "cannot move negative amount %d", amount)
	}

	debit, ok := addAmount(from.Balance, -amount)
	if !ok {
		return validation(ReasonInvalidAmount, "debiting %d from %s overflows", amount, from.ID)
	}

	credit, ok := addAmount(to.Balance, amount)
	if !ok {
		return validation(ReasonInvalidAmount, "crediting %d to %s overflows", amount, to.ID)
	}

	from.Balance, to.Balance = debit, credit
	s.changed(from)
	s.changed(to)
	return nil
}

// adjust applies delta to a single account, as when basket units are
// minted or burned.
func (s *session) adjust(a *Account, delta int64) error {
	balance, ok := addAmount(a.Balance, delta)
	if !ok {
		return validation(ReasonInvalidAmount, "adjusting %s by %d overflows", a.ID, delta)
	}

	a.Balance = balance
	s.changed(a)
	return nil
}

func (s *session) clientContext(nymID string) (*ClientContext, error) {
	if c, ok := s.contexts[nymID]; ok {
		return c, nil
	}

	c, err := findClientContext(s.txn, nymID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, validation(ReasonUnknownNym, "nym %s has no client context", nymID)
		}

		return nil, err
	}

	s.contexts[nymID] = c
	return c, nil
}

func (s *session) contextChanged(c *ClientContext) {
	s.dirtyCtx[c.NymID] = true
}

func (s *session) ledger(owner string, kind LedgerKind) (*Ledger, error) {
	id := ledgerID{owner: owner, kind: kind}
	if l, ok := s.ledgers[id]; ok {
		return l, nil
	}

	l, err := loadLedger(s.txn, owner, kind)
	if err != nil {
		return nil, err
	}

	s.ledgers[id] = l
	return l, nil
}

// post appends a record to a ledger. Records without a number get a fresh
// server issued one.
func (s *session) post(owner string, kind LedgerKind, item *LedgerItem) error {
	if item.Number == 0 {
		number, err := s.n.store.NextNumber()
		if err != nil {
			return err
		}

		item.Number = number
	}

	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now
	}

	// nymboxes of nyms outside the lease are only appended to, one key per
	// record, so they are written without loading the ledger.
	if kind == Nymbox && !s.lease.HoldsNym(owner) {
		return setJSON(s.txn, ledgerKey(owner, kind, item.Number), item)
	}

	l, err := s.ledger(owner, kind)
	if err != nil {
		return err
	}

	if err := l.Add(item); err != nil {
		return err
	}

	if kind != Nymbox {
		s.touched[owner] = true
	}

	return nil
}

func (s *session) afterCommit(fn func()) {
	s.after = append(s.after, fn)
}

func (s *session) flush() error {
	for id := range s.dirty {
		if err := saveAccount(s.txn, s.accounts[id]); err != nil {
			return err
		}
	}

	for id := range s.dirtyCtx {
		if err := saveClientContext(s.txn, s.contexts[id]); err != nil {
			return err
		}
	}

	return nil
}

func (s *session) snapshots() ([]LedgerSnapshot, error) {
	ids := make([]string, 0, len(s.touched))
	for id := range s.touched {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	snapshots := make([]LedgerSnapshot, 0, len(ids))
	for _, id := range ids {
		a, ok := s.accounts[id]
		if !ok {
			var err error
			if a, err = findAccount(s.txn, id); err != nil {
				return nil, err
			}
		}

		inbox, err := s.ledger(id, Inbox)
		if err != nil {
			return nil, err
		}

		outbox, err := s.ledger(id, Outbox)
		if err != nil {
			return nil, err
		}

		snapshots = append(snapshots, LedgerSnapshot{
			AccountID:   a.ID,
			UnitID:      a.UnitID,
			Balance:     a.Balance,
			InboxCount:  inbox.Count(),
			OutboxCount: outbox.Count(),
			UpdatedAt:   s.now,
		})
	}

	return snapshots, nil
}

// commit persists the session and runs the post commit hooks.
func (s *session) commit() ([]LedgerSnapshot, error) {
	if err := s.flush(); err != nil {
		return nil, err
	}

	snapshots, err := s.snapshots()
	if err != nil {
		return nil, err
	}

	if err := s.txn.Commit(); err != nil {
		return nil, fmt.Errorf("commit failed: %w", err)
	}

	for _, fn := range s.after {
		fn()
	}

	return snapshots, nil
}
