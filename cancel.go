package notary

import (
	"errors"

	"github.com/asaskevich/govalidator"
	"github.com/dgraph-io/badger/v4"
)

var cancelCronItemHandler = &handler{
	item: ItemCancelCronItem,
	scope: func(n *Notary, in *Transaction, item *Item) ([]string, []string, error) {
		var rec *CronRecord
		err := n.store.View(func(txn *badger.Txn) (err error) {
			rec, err = findCronRecord(txn, item.Reference)
			return
		})

		if errors.Is(err, ErrNotFound) {
			return nil, nil, validation(ReasonNoSuchCronItem, "cron item %d not found", item.Reference)
		} else if err != nil {
			return nil, nil, err
		}

		return nil, rec.Accounts, nil
	},
	run: runCancelCronItem,
}

// runCancelCronItem closes a cron item at a party's request. Losing the
// race against the item's own completion is a successful no-op that keeps
// the request number.
func runCancelCronItem(r *request, item *Item) error {
	rec, err := findCronRecord(r.txn, item.Reference)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return validation(ReasonNoSuchCronItem, "cron item %d not found", item.Reference)
		}

		return err
	}

	if !govalidator.IsIn(r.in.NymID, rec.Nyms...) {
		return validation(ReasonNotParty, "%s is not a party to cron item %d", r.in.NymID, rec.Number)
	}

	r.reply.Reference = rec.Number
	if rec.State.Terminal() {
		r.noop = true
		r.reply.Note = string(rec.State)
		return nil
	}

	if !govalidator.IsIn(r.in.AccountID, rec.Accounts...) {
		return validation(ReasonNotParty, "account %s is not part of cron item %d", r.in.AccountID, rec.Number)
	}

	account, err := r.account(r.in.AccountID)
	if err != nil {
		return err
	}

	if err := r.agree(account, 0, 1, 0); err != nil {
		return err
	}

	return r.settle(rec, StateCancelled)
}
