package notary

import (
	"github.com/zyedidia/generic/mapset"
)

var processNymboxHandler = &handler{
	item:     ItemAcceptReceipts,
	noNumber: true,
	run:      runProcessNymbox,
}

// runProcessNymbox clears accepted nymbox records. Accepting a
// transactionNumbers record makes its numbers available. It spends no
// transaction number; the transaction statement guards it instead.
func runProcessNymbox(r *request, item *Item) error {
	if r.in.AccountID != "" {
		return validation(ReasonMalformed, "nymbox requests carry no account")
	}

	if len(item.Accept) == 0 {
		return validation(ReasonMalformed, "nothing to accept")
	}

	nymbox, err := r.ledger(r.in.NymID, Nymbox)
	if err != nil {
		return err
	}

	seen := mapset.New[TxNumber]()
	var granted []TxNumber
	for _, ref := range item.Accept {
		if ref.Ledger != Nymbox {
			return validation(ReasonMalformed, "cannot accept from %s here", ref.Ledger)
		}

		if seen.Has(ref.Number) {
			return validation(ReasonDuplicateReference, "nymbox record %d accepted twice", ref.Number)
		}
		seen.Put(ref.Number)

		record := nymbox.Find(ref.Number)
		if record == nil {
			return validation(ReasonNoSuchReceipt, "nymbox of %s has no record %d", r.in.NymID, ref.Number)
		}

		if record.Type == ReceiptTransactionNumbers {
			granted = append(granted, record.Numbers...)
		}
	}

	if f := r.context.accept(granted...); f != nil {
		return f
	}

	r.contextChanged(r.context)

	if err := r.state(nymbox.Count()-len(item.Accept), r.context.AvailableCount()); err != nil {
		return err
	}

	for _, ref := range item.Accept {
		if err := nymbox.Remove(ref.Number); err != nil {
			return err
		}
	}

	return nil
}
