package notary

var withdrawalHandler = &handler{
	item: ItemWithdrawal,
	scope: func(n *Notary, in *Transaction, item *Item) ([]string, []string, error) {
		vault, err := n.voucherVault(in.AccountID)
		if err != nil {
			return nil, nil, err
		}

		return []string{n.signer.NymID()}, []string{vault}, nil
	},
	run: runWithdrawal,
}

// runWithdrawal sells a voucher: the account pays into the unit's voucher
// vault and the signed voucher travels back in the reply.
func runWithdrawal(r *request, item *Item) error {
	if item.Amount <= 0 {
		return validation(ReasonInvalidAmount, "withdrawal amount must be positive")
	}

	account, err := r.account(r.in.AccountID)
	if err != nil {
		return err
	}

	vaultID, err := findVaultID(r.txn, account.UnitID, AccountVoucherVault)
	if err != nil {
		return err
	}

	vault, err := r.account(vaultID)
	if err != nil {
		return err
	}

	if err := r.agree(account, -item.Amount, 0, 0); err != nil {
		return err
	}

	if err := r.move(account, vault, item.Amount); err != nil {
		return err
	}

	voucher, err := r.issueVoucher(vault, item.Amount, account, item.Recipient, item.Note)
	if err != nil {
		return err
	}

	r.reply.Cheque = voucher
	r.reply.Amount = item.Amount
	return nil
}
