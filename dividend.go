package notary

import (
	"errors"
	"math"

	"github.com/dgraph-io/badger/v4"
)

// Dividend pays AmountPerShare for every unit of SharesUnitID held.
type Dividend struct {
	SharesUnitID   string `json:"shares_unit_id"`
	AmountPerShare int64  `json:"amount_per_share"`
}

var payDividendHandler = &handler{
	item: ItemPayDividend,
	scope: func(n *Notary, in *Transaction, item *Item) ([]string, []string, error) {
		vault, err := n.voucherVault(in.AccountID)
		if err != nil {
			return nil, nil, err
		}

		return []string{n.signer.NymID()}, []string{vault}, nil
	},
	run: runPayDividend,
}

// runPayDividend moves the whole payout into the voucher vault and sends
// each holder a voucher for its share through the nymbox.
func runPayDividend(r *request, item *Item) error {
	d := item.Dividend
	if d == nil {
		return validation(ReasonMalformed, "dividend missing")
	}

	if d.AmountPerShare <= 0 {
		return validation(ReasonInvalidAmount, "amount per share must be positive")
	}

	payer, err := r.account(r.in.AccountID)
	if err != nil {
		return err
	}

	if _, err := findUnit(r.txn, d.SharesUnitID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return validation(ReasonUnknownUnit, "unit %s not registered", d.SharesUnitID)
		}

		return err
	}

	holders, err := r.n.holders(d.SharesUnitID, r.in.NymID)
	if err != nil {
		return err
	}

	if len(holders) == 0 {
		return business(ReasonNoHolders, "nobody else holds %s", d.SharesUnitID)
	}

	var total int64
	payouts := make([]int64, len(holders))
	for i, h := range holders {
		if h.Balance > (math.MaxInt64-total)/d.AmountPerShare {
			return validation(ReasonInvalidAmount, "dividend overflows")
		}

		payouts[i] = h.Balance * d.AmountPerShare
		total += payouts[i]
	}

	vaultID, err := findVaultID(r.txn, payer.UnitID, AccountVoucherVault)
	if err != nil {
		return err
	}

	vault, err := r.account(vaultID)
	if err != nil {
		return err
	}

	if err := r.agree(payer, -total, 0, 0); err != nil {
		return err
	}

	if err := r.move(payer, vault, total); err != nil {
		return err
	}

	for i, h := range holders {
		voucher, err := r.issueVoucher(vault, payouts[i], payer, h.NymID, "dividend")
		if err != nil {
			return err
		}

		if err := r.post(h.NymID, Nymbox, &LedgerItem{
			Type:      ReceiptVoucherDelivery,
			Reference: r.in.Number,
			AccountID: h.ID,
			NymID:     h.NymID,
			Amount:    payouts[i],
			Voucher:   voucher,
		}); err != nil {
			return err
		}
	}

	r.reply.Amount = total
	return nil
}

// holders lists the accounts of a unit with a positive balance, leaving
// out the payer and the server. It reads outside the request so holder
// accounts never enter the request's conflict set.
func (n *Notary) holders(unitID, payer string) ([]*Account, error) {
	var accounts []*Account
	err := n.store.View(func(txn *badger.Txn) (err error) {
		accounts, err = listAccounts(txn, func(a *Account) bool {
			return a.UnitID == unitID &&
				a.Kind == AccountSimple &&
				a.Balance > 0 &&
				a.NymID != payer &&
				a.NymID != n.signer.NymID()
		})
		return
	})

	return accounts, err
}
