package notary

import (
	"encoding/json"
	"time"

	g "github.com/pandodao/generic"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TxNumber is a transaction number issued by the notary. Each one
// authorises exactly one notarized operation.
type TxNumber int64

type Unit struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Decimals  int32     `json:"decimals"`
	Basket    *Basket   `json:"basket,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Display renders an amount of minor units with the unit precision.
func (u *Unit) Display(amount int64) string {
	return decimal.New(amount, -u.Decimals).StringFixed(u.Decimals)
}

type AccountKind string

const (
	AccountSimple        AccountKind = "simple"
	AccountVoucherVault  AccountKind = "voucher"
	AccountBasketReserve AccountKind = "basket"
	AccountIssuer        AccountKind = "issuer"
)

type Account struct {
	ID        string      `json:"id"`
	NymID     string      `json:"nym_id"`
	UnitID    string      `json:"unit_id"`
	Kind      AccountKind `json:"kind"`
	Balance   int64       `json:"balance"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func newAccount(nymID, unitID string, kind AccountKind, now time.Time) *Account {
	return &Account{
		ID:        uuid.New().String(),
		NymID:     nymID,
		UnitID:    unitID,
		Kind:      kind,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

type TransactionType string

const (
	TransactionTransfer       TransactionType = "transfer"
	TransactionDeposit        TransactionType = "deposit"
	TransactionWithdrawal     TransactionType = "withdrawal"
	TransactionProcessInbox   TransactionType = "processInbox"
	TransactionProcessNymbox  TransactionType = "processNymbox"
	TransactionPaymentPlan    TransactionType = "paymentPlan"
	TransactionSmartContract  TransactionType = "smartContract"
	TransactionCancelCronItem TransactionType = "cancelCronItem"
	TransactionMarketOffer    TransactionType = "marketOffer"
	TransactionExchangeBasket TransactionType = "exchangeBasket"
	TransactionPayDividend    TransactionType = "payDividend"
)

type ItemType string

const (
	ItemTransfer             ItemType = "transfer"
	ItemDeposit              ItemType = "deposit"
	ItemWithdrawal           ItemType = "withdrawVoucher"
	ItemBalanceStatement     ItemType = "balanceStatement"
	ItemTransactionStatement ItemType = "transactionStatement"
	ItemAcceptReceipts       ItemType = "acceptReceipts"
	ItemPaymentPlan          ItemType = "paymentPlan"
	ItemSmartContract        ItemType = "smartContract"
	ItemCancelCronItem       ItemType = "cancelCronItem"
	ItemMarketOffer          ItemType = "marketOffer"
	ItemExchangeBasket       ItemType = "exchangeBasket"
	ItemPayDividend          ItemType = "payDividend"
)

type ItemStatus string

const (
	StatusRequest         ItemStatus = "request"
	StatusAcknowledgement ItemStatus = "acknowledgement"
	StatusRejection       ItemStatus = "rejection"
)

// BalanceAgreement is the holder's claim about the account after the
// operation has been applied.
type BalanceAgreement struct {
	AccountID   string `json:"account_id"`
	Balance     int64  `json:"balance"`
	InboxCount  int    `json:"inbox_count"`
	OutboxCount int    `json:"outbox_count"`
}

// TransactionStatement is the nymbox counterpart of a balance agreement.
type TransactionStatement struct {
	NymboxCount int `json:"nymbox_count"`
	Available   int `json:"available"`
}

type LedgerRef struct {
	Ledger LedgerKind `json:"ledger"`
	Number TxNumber   `json:"number"`
}

type Item struct {
	Type        ItemType    `json:"type"`
	Status      ItemStatus  `json:"status"`
	Amount      int64       `json:"amount,omitempty"`
	Destination string      `json:"destination,omitempty"`
	Recipient   string      `json:"recipient,omitempty"`
	Reference   TxNumber    `json:"reference,omitempty"`
	Cancel      bool        `json:"cancel,omitempty"`
	Note        string      `json:"note,omitempty"`
	Kind        FailureKind `json:"kind,omitempty"`
	Reason      Reason      `json:"reason,omitempty"`

	Agreement *BalanceAgreement     `json:"agreement,omitempty"`
	Statement *TransactionStatement `json:"statement,omitempty"`
	Accept    []LedgerRef           `json:"accept,omitempty"`
	Cheque    *Cheque               `json:"cheque,omitempty"`
	Plan      *PaymentPlan          `json:"plan,omitempty"`
	Contract  *SmartContract        `json:"contract,omitempty"`
	Offer     *Offer                `json:"offer,omitempty"`
	Basket    *BasketExchange       `json:"basket,omitempty"`
	Dividend  *Dividend             `json:"dividend,omitempty"`
}

// Transaction is both the signed request a nym submits and the signed
// response the notary returns.
type Transaction struct {
	NotaryID      string          `json:"notary_id"`
	Number        TxNumber        `json:"number"`
	Type          TransactionType `json:"type"`
	NymID         string          `json:"nym_id"`
	AccountID     string          `json:"account_id,omitempty"`
	InReferenceTo TxNumber        `json:"in_reference_to,omitempty"`
	RequestHash   string          `json:"request_hash,omitempty"`
	Success       bool            `json:"success,omitempty"`
	Items         []*Item         `json:"items"`
	CreatedAt     time.Time       `json:"created_at"`
	Signature     []byte          `json:"signature,omitempty"`
}

func (t *Transaction) payload() []byte {
	cp := *t
	cp.Signature = nil
	return g.Must(json.Marshal(cp))
}

// Item returns the first item of the given type.
func (t *Transaction) Item(typ ItemType) *Item {
	for _, item := range t.Items {
		if item.Type == typ {
			return item
		}
	}

	return nil
}

// Cheque is a drawer-signed instrument. Vouchers are cheques drawn by the
// notary on a voucher vault and carry the remitter who paid for them.
type Cheque struct {
	NotaryID          string    `json:"notary_id"`
	UnitID            string    `json:"unit_id"`
	Number            TxNumber  `json:"number"`
	Amount            int64     `json:"amount"`
	DrawerNymID       string    `json:"drawer_nym_id"`
	DrawerAccountID   string    `json:"drawer_account_id"`
	RemitterNymID     string    `json:"remitter_nym_id,omitempty"`
	RemitterAccountID string    `json:"remitter_account_id,omitempty"`
	RecipientNymID    string    `json:"recipient_nym_id,omitempty"`
	ValidFrom         time.Time `json:"valid_from"`
	ValidTo           time.Time `json:"valid_to"`
	Memo              string    `json:"memo,omitempty"`
	Signature         []byte    `json:"signature,omitempty"`
}

func (c *Cheque) IsVoucher() bool {
	return c.RemitterNymID != ""
}

func (c *Cheque) payload() []byte {
	cp := *c
	cp.Signature = nil
	return g.Must(json.Marshal(cp))
}
