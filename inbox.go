package notary

import (
	"github.com/zyedidia/generic/mapset"
)

var processInboxHandler = &handler{
	item: ItemAcceptReceipts,
	run:  runProcessInbox,
}

// runProcessInbox removes accepted records from the account's inbox and
// outbox. Effects were applied when the records were posted, so only the
// counts change.
func runProcessInbox(r *request, item *Item) error {
	if len(item.Accept) == 0 {
		return validation(ReasonMalformed, "nothing to accept")
	}

	account, err := r.account(r.in.AccountID)
	if err != nil {
		return err
	}

	seen := mapset.New[LedgerRef]()
	var inboxDelta, outboxDelta int
	for _, ref := range item.Accept {
		if seen.Has(ref) {
			return validation(ReasonDuplicateReference, "%s record %d accepted twice", ref.Ledger, ref.Number)
		}
		seen.Put(ref)

		switch ref.Ledger {
		case Inbox:
			inboxDelta--
		case Outbox:
			outboxDelta--
		default:
			return validation(ReasonMalformed, "cannot accept from %s here", ref.Ledger)
		}

		l, err := r.ledger(account.ID, ref.Ledger)
		if err != nil {
			return err
		}

		record := l.Find(ref.Number)
		if record == nil {
			return validation(ReasonNoSuchReceipt, "%s of %s has no record %d", ref.Ledger, account.ID, ref.Number)
		}

		// outbox records sit under the number that sent them, which must
		// be one the nym has spent.
		if ref.Ledger == Outbox && !r.context.Used(record.Number) {
			r.disputes = append(r.disputes, record.Number)
			return integrity(ReasonForeignReceipt, "outbox record %d does not match a number used by %s", record.Number, r.in.NymID)
		}
	}

	if err := r.agree(account, 0, inboxDelta, outboxDelta); err != nil {
		return err
	}

	for _, ref := range item.Accept {
		l, err := r.ledger(account.ID, ref.Ledger)
		if err != nil {
			return err
		}

		if err := l.Remove(ref.Number); err != nil {
			return err
		}
	}

	r.touched[account.ID] = true
	return nil
}
