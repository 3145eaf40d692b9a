package notary

var depositHandler = &handler{
	item: ItemDeposit,
	scope: func(n *Notary, in *Transaction, item *Item) ([]string, []string, error) {
		c := item.Cheque
		if c == nil {
			return nil, nil, validation(ReasonMalformed, "deposit carries no cheque")
		}

		return []string{c.DrawerNymID}, []string{c.DrawerAccountID, c.RemitterAccountID}, nil
	},
	run: runDeposit,
}

// runDeposit cashes a cheque or voucher into the request account. With
// Cancel set the drawer (or the remitter of a voucher) takes it back
// instead.
func runDeposit(r *request, item *Item) error {
	c := item.Cheque
	if c.NotaryID != r.n.id {
		return validation(ReasonWrongNotary, "cheque drawn on %q", c.NotaryID)
	}

	if c.Amount <= 0 {
		return validation(ReasonInvalidAmount, "cheque amount must be positive")
	}

	if c.IsVoucher() && c.DrawerNymID != r.n.signer.NymID() {
		return validation(ReasonBadSignature, "voucher not drawn by this notary")
	}

	if err := r.n.verifySignature(c.DrawerNymID, c.payload(), c.Signature); err != nil {
		return err
	}

	if !item.Cancel {
		if c.ValidFrom.After(r.now) {
			return business(ReasonNotYetValid, "cheque %d valid from %s", c.Number, c.ValidFrom)
		}

		if !c.ValidTo.IsZero() && r.now.After(c.ValidTo) {
			return business(ReasonExpired, "cheque %d expired at %s", c.Number, c.ValidTo)
		}

		if c.RecipientNymID != "" && c.RecipientNymID != r.in.NymID {
			return validation(ReasonNotParty, "cheque %d is payable to %s", c.Number, c.RecipientNymID)
		}
	}

	drawerCtx, err := r.clientContext(c.DrawerNymID)
	if err != nil {
		return err
	}

	if f := drawerCtx.consume(c.Number); f != nil {
		return f
	}

	r.contextChanged(drawerCtx)

	drawer, err := r.account(c.DrawerAccountID)
	if err != nil {
		return err
	}

	if drawer.NymID != c.DrawerNymID {
		return validation(ReasonNotOwner, "account %s is not owned by drawer %s", drawer.ID, c.DrawerNymID)
	}

	if drawer.UnitID != c.UnitID {
		return validation(ReasonUnitMismatch, "cheque unit %s, drawer account holds %s", c.UnitID, drawer.UnitID)
	}

	switch {
	case c.IsVoucher() && item.Cancel:
		return r.cancelVoucher(c, drawer)
	case c.IsVoucher():
		return r.depositVoucher(c, drawer)
	case item.Cancel:
		return r.cancelCheque(c, drawer)
	default:
		return r.depositCheque(c, drawer)
	}
}

func (r *request) depositCheque(c *Cheque, drawer *Account) error {
	if drawer.ID == r.in.AccountID {
		return validation(ReasonMalformed, "drawer cancels a cheque with the cancel flag")
	}

	depositor, err := r.account(r.in.AccountID)
	if err != nil {
		return err
	}

	if depositor.UnitID != c.UnitID {
		return validation(ReasonUnitMismatch, "cannot deposit %s into a %s account", c.UnitID, depositor.UnitID)
	}

	if drawer.Balance < c.Amount {
		return business(ReasonInsufficientFunds, "drawer account %s cannot cover cheque %d", drawer.ID, c.Number)
	}

	if err := r.agree(depositor, c.Amount, 0, 0); err != nil {
		return err
	}

	if err := r.move(drawer, depositor, c.Amount); err != nil {
		return err
	}

	return r.post(drawer.ID, Inbox, &LedgerItem{
		Type:      ReceiptCheque,
		Reference: c.Number,
		AccountID: depositor.ID,
		NymID:     depositor.NymID,
		Amount:    c.Amount,
		Note:      c.Memo,
	})
}

// cancelCheque burns the cheque number without moving funds; the receipt
// lands in the drawer's own inbox.
func (r *request) cancelCheque(c *Cheque, drawer *Account) error {
	if r.in.NymID != c.DrawerNymID || r.in.AccountID != drawer.ID {
		return validation(ReasonNotOwner, "only the drawer may cancel cheque %d", c.Number)
	}

	if err := r.agree(drawer, 0, 1, 0); err != nil {
		return err
	}

	return r.post(drawer.ID, Inbox, &LedgerItem{
		Type:      ReceiptCheque,
		Reference: c.Number,
		AccountID: drawer.ID,
		NymID:     drawer.NymID,
		Note:      "cancelled",
	})
}

func (r *request) depositVoucher(c *Cheque, vault *Account) error {
	depositor, err := r.account(r.in.AccountID)
	if err != nil {
		return err
	}

	if depositor.UnitID != c.UnitID {
		return validation(ReasonUnitMismatch, "cannot deposit %s into a %s account", c.UnitID, depositor.UnitID)
	}

	if vault.Balance < c.Amount {
		return integrity(ReasonReserveShortfall, "voucher vault %s cannot cover voucher %d", vault.ID, c.Number)
	}

	if err := r.agree(depositor, c.Amount, 0, 0); err != nil {
		return err
	}

	if err := r.move(vault, depositor, c.Amount); err != nil {
		return err
	}

	return r.post(c.RemitterNymID, Nymbox, &LedgerItem{
		Type:      ReceiptVoucher,
		Reference: c.Number,
		AccountID: depositor.ID,
		NymID:     depositor.NymID,
		Amount:    c.Amount,
	})
}

// cancelVoucher returns the funds of an undeposited voucher to the account
// that paid for it.
func (r *request) cancelVoucher(c *Cheque, vault *Account) error {
	if r.in.NymID != c.RemitterNymID || r.in.AccountID != c.RemitterAccountID {
		return validation(ReasonNotOwner, "only the remitter may cancel voucher %d", c.Number)
	}

	remitter, err := r.account(c.RemitterAccountID)
	if err != nil {
		return err
	}

	if vault.Balance < c.Amount {
		return integrity(ReasonReserveShortfall, "voucher vault %s cannot cover voucher %d", vault.ID, c.Number)
	}

	if err := r.agree(remitter, c.Amount, 0, 0); err != nil {
		return err
	}

	return r.move(vault, remitter, c.Amount)
}
