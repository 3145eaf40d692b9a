package notary

import (
	"context"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// Issue credits amount to an account out of its unit's issuer account.
// The issuer balance goes negative by the amount in circulation, so the
// sum over all accounts of a unit stays zero. The holder finds an
// issueReceipt in its inbox.
func (n *Notary) Issue(ctx context.Context, accountID string, amount int64) (*LedgerItem, error) {
	if amount <= 0 {
		return nil, validation(ReasonInvalidAmount, "issue amount must be positive")
	}

	unitID, err := accountUnit(n, accountID)
	if err != nil {
		return nil, err
	}

	var issuerID string
	if err := n.store.View(func(txn *badger.Txn) error {
		unit, err := findUnit(txn, unitID)
		if err != nil {
			return err
		}

		if unit.Basket != nil {
			return validation(ReasonUnitMismatch, "basket unit %s is minted by exchange only", unitID)
		}

		issuerID, err = findVaultID(txn, unitID, AccountIssuer)
		return err
	}); err != nil {
		return nil, err
	}

	lease := n.locks.Acquire(nil, []string{issuerID, accountID})
	defer lease.Release()

	txn := n.store.db.NewTransaction(true)
	defer txn.Discard()

	s := newSession(n, txn, lease, n.now())
	issuer, err := s.account(issuerID)
	if err != nil {
		return nil, err
	}

	account, err := s.account(accountID)
	if err != nil {
		return nil, err
	}

	if account.Kind != AccountSimple {
		return nil, validation(ReasonMalformed, "cannot issue into %s account %s", account.Kind, account.ID)
	}

	if err := s.move(issuer, account, amount); err != nil {
		return nil, err
	}

	receipt := &LedgerItem{
		Type:      ReceiptIssue,
		AccountID: issuer.ID,
		NymID:     issuer.NymID,
		Amount:    amount,
	}

	if err := s.post(account.ID, Inbox, receipt); err != nil {
		return nil, err
	}

	snapshots, err := s.commit()
	if err != nil {
		return nil, err
	}

	slog.Info("issued", "account", accountID, "unit", unitID, "amount", amount)
	n.notify(ctx, snapshots)
	return receipt, nil
}
