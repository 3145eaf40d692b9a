package notary

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

type LedgerKind uint8

const (
	Inbox LedgerKind = iota + 1
	Outbox
	Nymbox
)

func (k LedgerKind) String() string {
	switch k {
	case Inbox:
		return "inbox"
	case Outbox:
		return "outbox"
	case Nymbox:
		return "nymbox"
	default:
		return fmt.Sprintf("ledger(%d)", uint8(k))
	}
}

type ReceiptType string

const (
	ReceiptTransfer           ReceiptType = "transferReceipt"
	ReceiptIssue              ReceiptType = "issueReceipt"
	ReceiptCheque             ReceiptType = "chequeReceipt"
	ReceiptVoucher            ReceiptType = "voucherReceipt"
	ReceiptPayment            ReceiptType = "paymentReceipt"
	ReceiptMarket             ReceiptType = "marketReceipt"
	ReceiptBasket             ReceiptType = "basketReceipt"
	ReceiptFinal              ReceiptType = "finalReceipt"
	ReceiptNotice             ReceiptType = "notice"
	ReceiptTransactionNumbers ReceiptType = "transactionNumbers"
	ReceiptVoucherDelivery    ReceiptType = "voucher"
	RecordTransfer            ReceiptType = "transfer"
)

// LedgerItem is a pending record held in an inbox, outbox or nymbox.
type LedgerItem struct {
	Number    TxNumber    `json:"number"`
	Type      ReceiptType `json:"type"`
	Reference TxNumber    `json:"reference,omitempty"`
	AccountID string      `json:"account_id,omitempty"`
	NymID     string      `json:"nym_id,omitempty"`
	Amount    int64       `json:"amount,omitempty"`
	Note      string      `json:"note,omitempty"`
	Numbers   []TxNumber  `json:"numbers,omitempty"`
	Voucher   *Cheque     `json:"voucher,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Ledger is a view over one owner's records of a kind, bound to the
// badger transaction it was loaded with. Each record is its own key, so
// writers adding records to another owner's ledger never rewrite it.
type Ledger struct {
	Owner string
	Kind  LedgerKind
	Items []*LedgerItem

	txn   *badger.Txn
	dirty bool
}

func loadLedger(txn *badger.Txn, owner string, kind LedgerKind) (*Ledger, error) {
	prefix := ledgerKeyPrefix(owner, kind)

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	l := &Ledger{Owner: owner, Kind: kind, txn: txn}
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var item LedgerItem
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &item)
		}); err != nil {
			return nil, err
		}

		l.Items = append(l.Items, &item)
	}

	return l, nil
}

// ledgerNumbers lists the record numbers without decoding values.
func ledgerNumbers(txn *badger.Txn, owner string, kind LedgerKind) ([]TxNumber, error) {
	prefix := ledgerKeyPrefix(owner, kind)

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var numbers []TxNumber
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var n int64
		if err := decodeIndexKey(it.Item().KeyCopy(nil), prefix, &n); err != nil {
			return nil, err
		}

		numbers = append(numbers, TxNumber(n))
	}

	return numbers, nil
}

func (l *Ledger) Count() int {
	return len(l.Items)
}

func (l *Ledger) Find(number TxNumber) *LedgerItem {
	for _, item := range l.Items {
		if item.Number == number {
			return item
		}
	}

	return nil
}

func (l *Ledger) Add(item *LedgerItem) error {
	if l.Find(item.Number) != nil {
		return fmt.Errorf("%s of %s already holds %d", l.Kind, l.Owner, item.Number)
	}

	b, err := json.Marshal(item)
	if err != nil {
		return err
	}

	if err := l.txn.Set(ledgerKey(l.Owner, l.Kind, item.Number), b); err != nil {
		return err
	}

	l.Items = append(l.Items, item)
	l.dirty = true
	return nil
}

func (l *Ledger) Remove(number TxNumber) error {
	idx := -1
	for i, item := range l.Items {
		if item.Number == number {
			idx = i
			break
		}
	}

	if idx < 0 {
		return fmt.Errorf("%s of %s has no %d", l.Kind, l.Owner, number)
	}

	if err := l.txn.Delete(ledgerKey(l.Owner, l.Kind, number)); err != nil {
		return err
	}

	l.Items = append(l.Items[:idx], l.Items[idx+1:]...)
	l.dirty = true
	return nil
}
