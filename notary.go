package notary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/yiplee/go-cache"
)

// Notary validates and applies signed transactions against the accounts,
// ledgers and client contexts held in its store, and drives the cron items
// registered with it.
type Notary struct {
	id       string
	store    *Store
	locks    *lockTable
	cron     *Cron
	book     *marketBook
	verifier Verifier
	hasher   Hasher
	signer   Signer
	notifier Notifier
	nyms     *cache.Cache[string, *Nym]
	now      func() time.Time

	failureLimit    int
	voucherLifetime time.Duration
}

type Option func(n *Notary)

func WithClock(now func() time.Time) Option {
	return func(n *Notary) { n.now = now }
}

func WithNotifier(notifier Notifier) Option {
	return func(n *Notary) { n.notifier = notifier }
}

func WithVerifier(v Verifier) Option {
	return func(n *Notary) { n.verifier = v }
}

func WithHasher(h Hasher) Option {
	return func(n *Notary) { n.hasher = h }
}

// WithFailureLimit terminates a recurring charge after limit failed
// attempts. Zero retries until expiry or cancellation.
func WithFailureLimit(limit int) Option {
	return func(n *Notary) { n.failureLimit = limit }
}

func WithProcessInterval(d time.Duration) Option {
	return func(n *Notary) { n.cron.interval = d }
}

func WithVoucherLifetime(d time.Duration) Option {
	return func(n *Notary) { n.voucherLifetime = d }
}

func New(id string, store *Store, signer Signer, opts ...Option) (*Notary, error) {
	n := &Notary{
		id:       id,
		store:    store,
		locks:    newLockTable(),
		cron:     newCron(planProcessInterval),
		book:     newMarketBook(),
		verifier: NewVerifier(),
		hasher:   NewHasher(),
		signer:   signer,
		notifier: logNotifier{},
		nyms:     cache.New[string, *Nym](),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(n)
	}

	n.cron.process = n.processCronItem

	if _, err := n.RegisterNym(context.Background(), signer.PublicKey()); err != nil {
		return nil, fmt.Errorf("register server nym failed: %w", err)
	}

	if err := n.restoreCron(); err != nil {
		return nil, fmt.Errorf("restore cron failed: %w", err)
	}

	return n, nil
}

func (n *Notary) ID() string {
	return n.id
}

func (n *Notary) ServerNymID() string {
	return n.signer.NymID()
}

func (n *Notary) Cron() *Cron {
	return n.cron
}

func (n *Notary) Store() *Store {
	return n.store
}

func (n *Notary) RegisterNym(ctx context.Context, pub []byte) (*Nym, error) {
	nym := &Nym{
		ID:        NymIDFromKey(pub),
		PublicKey: pub,
		CreatedAt: n.now(),
	}

	lease := n.locks.Acquire([]string{nym.ID}, nil)
	defer lease.Release()

	err := n.store.Update(func(txn *badger.Txn) error {
		existing, err := findNym(txn, nym.ID)
		if err == nil {
			nym = existing
			return nil
		}

		if !errors.Is(err, ErrNotFound) {
			return err
		}

		if err := saveNym(txn, nym); err != nil {
			return err
		}

		return saveClientContext(txn, NewClientContext(nym.ID))
	})

	if err != nil {
		return nil, err
	}

	return nym, nil
}

func (n *Notary) lookupNym(id string) (*Nym, error) {
	if nym, ok := n.nyms.Get(id); ok {
		return nym, nil
	}

	var nym *Nym
	if err := n.store.View(func(txn *badger.Txn) error {
		var err error
		nym, err = findNym(txn, id)
		return err
	}); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, validation(ReasonUnknownNym, "nym %s not registered", id)
		}

		return nil, err
	}

	n.nyms.Set(id, nym)
	return nym, nil
}

// verifySignature checks payload against the registered key of nymID.
func (n *Notary) verifySignature(nymID string, payload, signature []byte) error {
	nym, err := n.lookupNym(nymID)
	if err != nil {
		return err
	}

	if !n.verifier.Verify(nym.Identity(), SignedPayload{Data: payload, Signature: signature}) {
		return validation(ReasonBadSignature, "signature of %s does not verify", nymID)
	}

	return nil
}

func (n *Notary) RegisterUnit(ctx context.Context, id, name string, decimals int32) (*Unit, error) {
	unit := &Unit{ID: id, Name: name, Decimals: decimals, CreatedAt: n.now()}
	if err := n.saveUnit(unit); err != nil {
		return nil, err
	}

	return unit, nil
}

func (n *Notary) saveUnit(unit *Unit) error {
	if unit.ID == "" {
		return validation(ReasonMalformed, "unit id required")
	}

	return n.store.Update(func(txn *badger.Txn) error {
		if existing, err := findUnit(txn, unit.ID); err == nil {
			*unit = *existing
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		if err := saveUnit(txn, unit); err != nil {
			return err
		}

		if _, err := n.createVault(txn, unit.ID, AccountIssuer); err != nil {
			return err
		}

		_, err := n.createVault(txn, unit.ID, AccountVoucherVault)
		return err
	})
}

func (n *Notary) CreateAccount(ctx context.Context, nymID, unitID string) (*Account, error) {
	if _, err := n.lookupNym(nymID); err != nil {
		return nil, err
	}

	account := newAccount(nymID, unitID, AccountSimple, n.now())
	err := n.store.Update(func(txn *badger.Txn) error {
		if _, err := findUnit(txn, unitID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return validation(ReasonUnknownUnit, "unit %s not registered", unitID)
			}

			return err
		}

		return saveAccount(txn, account)
	})

	if err != nil {
		return nil, err
	}

	slog.Info("account created", "account", account.ID, "nym", nymID, "unit", unitID)
	return account, nil
}

// RequestNumbers grants count fresh transaction numbers to the nym. They
// arrive in its nymbox and become available once the nymbox is processed.
func (n *Notary) RequestNumbers(ctx context.Context, nymID string, count int) (*LedgerItem, error) {
	if count <= 0 || count > 100 {
		return nil, validation(ReasonMalformed, "count must be within 1..100")
	}

	if _, err := n.lookupNym(nymID); err != nil {
		return nil, err
	}

	lease := n.locks.Acquire([]string{nymID}, nil)
	defer lease.Release()

	txn := n.store.db.NewTransaction(true)
	defer txn.Discard()

	s := newSession(n, txn, lease, n.now())
	c, err := s.clientContext(nymID)
	if err != nil {
		return nil, err
	}

	numbers := make([]TxNumber, 0, count)
	for i := 0; i < count; i++ {
		number, err := n.store.NextNumber()
		if err != nil {
			return nil, err
		}

		numbers = append(numbers, number)
	}

	c.grant(numbers...)
	s.contextChanged(c)

	item := &LedgerItem{
		Type:    ReceiptTransactionNumbers,
		NymID:   nymID,
		Numbers: numbers,
	}

	if err := s.post(nymID, Nymbox, item); err != nil {
		return nil, err
	}

	if _, err := s.commit(); err != nil {
		return nil, err
	}

	return item, nil
}

func (n *Notary) Account(ctx context.Context, id string) (*Account, error) {
	var account *Account
	err := n.store.View(func(txn *badger.Txn) (err error) {
		account, err = findAccount(txn, id)
		return
	})

	return account, err
}

func (n *Notary) Unit(ctx context.Context, id string) (*Unit, error) {
	var unit *Unit
	err := n.store.View(func(txn *badger.Txn) (err error) {
		unit, err = findUnit(txn, id)
		return
	})

	return unit, err
}

func (n *Notary) ClientContext(ctx context.Context, nymID string) (*ClientContext, error) {
	var c *ClientContext
	err := n.store.View(func(txn *badger.Txn) (err error) {
		c, err = findClientContext(txn, nymID)
		return
	})

	return c, err
}

func (n *Notary) Ledger(ctx context.Context, owner string, kind LedgerKind) (*Ledger, error) {
	var l *Ledger
	err := n.store.View(func(txn *badger.Txn) (err error) {
		l, err = loadLedger(txn, owner, kind)
		return
	})

	return l, err
}

// LedgerCount counts the records of a ledger without decoding them.
func (n *Notary) LedgerCount(ctx context.Context, owner string, kind LedgerKind) (int, error) {
	var numbers []TxNumber
	err := n.store.View(func(txn *badger.Txn) (err error) {
		numbers, err = ledgerNumbers(txn, owner, kind)
		return
	})

	return len(numbers), err
}

func (n *Notary) CronRecord(ctx context.Context, number TxNumber) (*CronRecord, error) {
	var rec *CronRecord
	err := n.store.View(func(txn *badger.Txn) (err error) {
		rec, err = findCronRecord(txn, number)
		return
	})

	return rec, err
}
