package notary

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

type BasketSub struct {
	UnitID string `json:"unit_id" yaml:"unit_id"`
	Weight int64  `json:"weight" yaml:"weight"`
}

// Basket is a unit backed by fixed weights of other units. One
// MinimumTransfer of the basket unit is worth one Weight of every sub-unit.
type Basket struct {
	Subs            []BasketSub `json:"subs"`
	MinimumTransfer int64       `json:"minimum_transfer"`
}

// BasketExchange moves Multiple minimum transfers into (In) or out of a
// basket account. SubAccounts line up with the basket's Subs.
type BasketExchange struct {
	In          bool     `json:"in"`
	Multiple    int64    `json:"multiple"`
	SubAccounts []string `json:"sub_accounts"`
}

// IssueBasket registers a basket unit and the server reserve accounts
// holding its sub-units.
func (n *Notary) IssueBasket(ctx context.Context, id, name string, decimals int32, basket Basket) (*Unit, error) {
	if len(basket.Subs) == 0 || basket.MinimumTransfer <= 0 {
		return nil, validation(ReasonMalformed, "basket needs sub-units and a minimum transfer")
	}

	unit := &Unit{ID: id, Name: name, Decimals: decimals, Basket: &basket, CreatedAt: n.now()}
	err := n.store.Update(func(txn *badger.Txn) error {
		if _, err := findUnit(txn, id); err == nil {
			return validation(ReasonMalformed, "unit %s already exists", id)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		for _, sub := range basket.Subs {
			if sub.Weight <= 0 {
				return validation(ReasonInvalidAmount, "weight of %s must be positive", sub.UnitID)
			}

			if _, err := findUnit(txn, sub.UnitID); err != nil {
				if errors.Is(err, ErrNotFound) {
					return validation(ReasonUnknownUnit, "sub-unit %s not registered", sub.UnitID)
				}

				return err
			}

			if _, err := n.createVault(txn, sub.UnitID, AccountBasketReserve, id); err != nil {
				return err
			}
		}

		if err := saveUnit(txn, unit); err != nil {
			return err
		}

		_, err := n.createVault(txn, id, AccountVoucherVault)
		return err
	})

	if err != nil {
		return nil, err
	}

	slog.Info("basket issued", "unit", id, "subs", len(basket.Subs))
	return unit, nil
}

var exchangeBasketHandler = &handler{
	item: ItemExchangeBasket,
	scope: func(n *Notary, in *Transaction, item *Item) ([]string, []string, error) {
		if item.Basket == nil {
			return nil, nil, validation(ReasonMalformed, "basket exchange missing")
		}

		unitID, err := accountUnit(n, in.AccountID)
		if err != nil {
			return nil, nil, err
		}

		accounts := append([]string{}, item.Basket.SubAccounts...)
		err = n.store.View(func(txn *badger.Txn) error {
			unit, err := findUnit(txn, unitID)
			if err != nil {
				return err
			}

			if unit.Basket == nil {
				return validation(ReasonUnitMismatch, "%s is not a basket unit", unitID)
			}

			for _, sub := range unit.Basket.Subs {
				id, err := findVaultID(txn, sub.UnitID, AccountBasketReserve, unitID)
				if err != nil {
					return err
				}

				accounts = append(accounts, id)
			}

			return nil
		})

		return nil, accounts, err
	},
	run: runExchangeBasket,
}

// runExchangeBasket swaps sub-units for basket units or back. The balance
// statement covers the basket account; every sub-account receives a
// basketReceipt.
func runExchangeBasket(r *request, item *Item) error {
	x := item.Basket
	if x.Multiple <= 0 {
		return validation(ReasonInvalidAmount, "multiple must be positive")
	}

	account, err := r.account(r.in.AccountID)
	if err != nil {
		return err
	}

	unit, err := findUnit(r.txn, account.UnitID)
	if err != nil {
		return err
	}

	b := unit.Basket
	if b == nil {
		return validation(ReasonUnitMismatch, "%s is not a basket unit", unit.ID)
	}

	if len(x.SubAccounts) != len(b.Subs) {
		return validation(ReasonMalformed, "basket has %d sub-units, got %d accounts", len(b.Subs), len(x.SubAccounts))
	}

	total, ok := mulAmount(b.MinimumTransfer, x.Multiple)
	if !ok {
		return validation(ReasonInvalidAmount, "multiple %d overflows", x.Multiple)
	}

	delta := total
	if !x.In {
		delta = -total
	}

	if err := r.agree(account, delta, 0, 0); err != nil {
		return err
	}

	type leg struct {
		sub     *Account
		reserve *Account
		amount  int64
	}

	legs := make([]leg, 0, len(b.Subs))
	for i, s := range b.Subs {
		sub, err := r.account(x.SubAccounts[i])
		if err != nil {
			return err
		}

		if sub.NymID != r.in.NymID {
			return validation(ReasonNotOwner, "account %s is not owned by %s", sub.ID, r.in.NymID)
		}

		if sub.UnitID != s.UnitID {
			return validation(ReasonUnitMismatch, "account %s holds %s, basket needs %s", sub.ID, sub.UnitID, s.UnitID)
		}

		reserveID, err := findVaultID(r.txn, s.UnitID, AccountBasketReserve, unit.ID)
		if err != nil {
			return err
		}

		reserve, err := r.account(reserveID)
		if err != nil {
			return err
		}

		amount, ok := mulAmount(s.Weight, x.Multiple)
		if !ok {
			return validation(ReasonInvalidAmount, "multiple %d overflows for %s", x.Multiple, s.UnitID)
		}

		if x.In && sub.Balance < amount {
			return business(ReasonInsufficientFunds, "account %s cannot supply %d %s", sub.ID, amount, s.UnitID)
		}

		if !x.In && reserve.Balance < amount {
			return integrity(ReasonReserveShortfall, "reserve %s cannot return %d %s", reserve.ID, amount, s.UnitID)
		}

		legs = append(legs, leg{sub: sub, reserve: reserve, amount: amount})
	}

	if err := r.adjust(account, delta); err != nil {
		return err
	}

	for _, l := range legs {
		from, to := l.sub, l.reserve
		if !x.In {
			from, to = l.reserve, l.sub
		}

		if err := r.move(from, to, l.amount); err != nil {
			return err
		}

		if err := r.post(l.sub.ID, Inbox, &LedgerItem{
			Type:      ReceiptBasket,
			Reference: r.in.Number,
			AccountID: account.ID,
			NymID:     r.in.NymID,
			Amount:    l.amount,
		}); err != nil {
			return err
		}
	}

	return nil
}
