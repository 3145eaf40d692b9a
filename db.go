package notary

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

var ErrNotFound = errors.New("not found")

// Store owns the badger database holding every account, ledger, client
// context and cron item of the notary.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
}

func OpenStore(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open db failed: %w", err)
	}

	return NewStore(db)
}

func NewStore(db *badger.DB) (*Store, error) {
	seq, err := db.GetSequence(sequenceKey, 128)
	if err != nil {
		return nil, fmt.Errorf("get sequence failed: %w", err)
	}

	return &Store{db: db, seq: seq}, nil
}

func (s *Store) DB() *badger.DB {
	return s.db
}

func (s *Store) Close() error {
	_ = s.seq.Release()
	return s.db.Close()
}

// NextNumber hands out a fresh transaction number. Numbers lost to a crash
// are simply never issued; none is ever handed out twice.
func (s *Store) NextNumber() (TxNumber, error) {
	n, err := s.seq.Next()
	if err != nil {
		return 0, err
	}

	return TxNumber(n + 1), nil
}

func (s *Store) View(fn func(txn *badger.Txn) error) error {
	return s.db.View(fn)
}

func (s *Store) Update(fn func(txn *badger.Txn) error) error {
	return s.db.Update(fn)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}

		return err
	}

	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return txn.SetEntry(badger.NewEntry(key, b))
}

func saveNym(txn *badger.Txn, nym *Nym) error {
	return setJSON(txn, buildIndexKey(nymPrefix, nym.ID), nym)
}

func findNym(txn *badger.Txn, id string) (*Nym, error) {
	var nym Nym
	if err := getJSON(txn, buildIndexKey(nymPrefix, id), &nym); err != nil {
		return nil, err
	}

	return &nym, nil
}

func saveUnit(txn *badger.Txn, unit *Unit) error {
	return setJSON(txn, buildIndexKey(unitPrefix, unit.ID), unit)
}

func findUnit(txn *badger.Txn, id string) (*Unit, error) {
	var unit Unit
	if err := getJSON(txn, buildIndexKey(unitPrefix, id), &unit); err != nil {
		return nil, err
	}

	return &unit, nil
}

func saveAccount(txn *badger.Txn, account *Account) error {
	return setJSON(txn, buildIndexKey(accountPrefix, account.ID), account)
}

func findAccount(txn *badger.Txn, id string) (*Account, error) {
	var account Account
	if err := getJSON(txn, buildIndexKey(accountPrefix, id), &account); err != nil {
		return nil, err
	}

	return &account, nil
}

func listAccounts(txn *badger.Txn, filter func(*Account) bool) ([]*Account, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchSize = 100
	opts.Prefix = accountPrefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var accounts []*Account
	for it.Seek(accountPrefix); it.ValidForPrefix(accountPrefix); it.Next() {
		var account Account
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &account)
		}); err != nil {
			return nil, err
		}

		if filter == nil || filter(&account) {
			accounts = append(accounts, &account)
		}
	}

	return accounts, nil
}

func saveClientContext(txn *badger.Txn, c *ClientContext) error {
	return setJSON(txn, buildIndexKey(contextPrefix, c.NymID), c)
}

func findClientContext(txn *badger.Txn, nymID string) (*ClientContext, error) {
	c := NewClientContext(nymID)
	if err := getJSON(txn, buildIndexKey(contextPrefix, nymID), c); err != nil {
		return nil, err
	}

	return c, nil
}

func saveCronRecord(txn *badger.Txn, rec *CronRecord) error {
	return setJSON(txn, cronKey(rec.Number), rec)
}

func findCronRecord(txn *badger.Txn, number TxNumber) (*CronRecord, error) {
	var rec CronRecord
	if err := getJSON(txn, cronKey(number), &rec); err != nil {
		return nil, err
	}

	return &rec, nil
}

func listCronRecords(txn *badger.Txn, activeOnly bool) ([]*CronRecord, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = cronPrefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var records []*CronRecord
	for it.Seek(cronPrefix); it.ValidForPrefix(cronPrefix); it.Next() {
		var rec CronRecord
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return nil, err
		}

		if activeOnly && rec.State != StateActive {
			continue
		}

		records = append(records, &rec)
	}

	return records, nil
}

func saveProperty(txn *badger.Txn, key string, value any) error {
	return setJSON(txn, buildIndexKey(propertyPrefix, key), value)
}

func readProperty(txn *badger.Txn, key string, value any) error {
	err := getJSON(txn, buildIndexKey(propertyPrefix, key), value)
	if errors.Is(err, ErrNotFound) {
		return nil
	}

	return err
}
