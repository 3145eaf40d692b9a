package notary

var transferHandler = &handler{
	item: ItemTransfer,
	scope: func(n *Notary, in *Transaction, item *Item) ([]string, []string, error) {
		return nil, []string{item.Destination}, nil
	},
	run: runTransfer,
}

// runTransfer debits the source and credits the destination at once. The
// destination gets a transferReceipt, the source keeps a record in its
// outbox under the request number.
func runTransfer(r *request, item *Item) error {
	if item.Amount <= 0 {
		return validation(ReasonInvalidAmount, "transfer amount must be positive")
	}

	if item.Destination == "" || item.Destination == r.in.AccountID {
		return validation(ReasonMalformed, "invalid transfer destination")
	}

	src, err := r.account(r.in.AccountID)
	if err != nil {
		return err
	}

	dst, err := r.account(item.Destination)
	if err != nil {
		return err
	}

	if src.UnitID != dst.UnitID {
		return validation(ReasonUnitMismatch, "cannot transfer %s into a %s account", src.UnitID, dst.UnitID)
	}

	if err := r.agree(src, -item.Amount, 0, 1); err != nil {
		return err
	}

	if err := r.move(src, dst, item.Amount); err != nil {
		return err
	}

	if err := r.post(src.ID, Outbox, &LedgerItem{
		Number:    r.in.Number,
		Type:      RecordTransfer,
		AccountID: dst.ID,
		NymID:     dst.NymID,
		Amount:    item.Amount,
		Note:      item.Note,
	}); err != nil {
		return err
	}

	return r.post(dst.ID, Inbox, &LedgerItem{
		Type:      ReceiptTransfer,
		Reference: r.in.Number,
		AccountID: src.ID,
		NymID:     src.NymID,
		Amount:    item.Amount,
		Note:      item.Note,
	})
}
