package notary

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Vaults are server owned accounts backing value the notary holds on
// behalf of others: issued vouchers per unit and basket reserves per
// sub-unit.

func vaultProperty(kind AccountKind, unitID, scope string) string {
	if scope == "" {
		return fmt.Sprintf("vault:%s:%s", kind, unitID)
	}

	return fmt.Sprintf("vault:%s:%s:%s", kind, scope, unitID)
}

func (n *Notary) createVault(txn *badger.Txn, unitID string, kind AccountKind, scope ...string) (*Account, error) {
	key := vaultProperty(kind, unitID, firstOr(scope))

	var id string
	if err := readProperty(txn, key, &id); err != nil {
		return nil, err
	}

	if id != "" {
		return findAccount(txn, id)
	}

	vault := newAccount(n.signer.NymID(), unitID, kind, n.now())
	if err := saveAccount(txn, vault); err != nil {
		return nil, err
	}

	if err := saveProperty(txn, key, vault.ID); err != nil {
		return nil, err
	}

	return vault, nil
}

func findVaultID(txn *badger.Txn, unitID string, kind AccountKind, scope ...string) (string, error) {
	var id string
	if err := readProperty(txn, vaultProperty(kind, unitID, firstOr(scope)), &id); err != nil {
		return "", err
	}

	if id == "" {
		return "", integrity(ReasonReserveShortfall, "no %s vault for %s", kind, unitID)
	}

	return id, nil
}

// voucherVault resolves the voucher vault of an account's unit before any
// lock is taken.
func (n *Notary) voucherVault(accountID string) (string, error) {
	unitID, err := accountUnit(n, accountID)
	if err != nil {
		return "", err
	}

	var id string
	err = n.store.View(func(txn *badger.Txn) (err error) {
		id, err = findVaultID(txn, unitID, AccountVoucherVault)
		return
	})

	return id, err
}

func firstOr(values []string) string {
	if len(values) == 0 {
		return ""
	}

	return values[0]
}

// issueVoucher draws a server signed voucher on vault. Its number is issued
// to the server nym, whose context the session must hold.
func (r *request) issueVoucher(vault *Account, amount int64, remitter *Account, recipient, memo string) (*Cheque, error) {
	server, err := r.clientContext(r.n.signer.NymID())
	if err != nil {
		return nil, err
	}

	number, err := r.n.store.NextNumber()
	if err != nil {
		return nil, err
	}

	server.issue(number)
	r.contextChanged(server)

	voucher := &Cheque{
		NotaryID:          r.n.id,
		UnitID:            vault.UnitID,
		Number:            number,
		Amount:            amount,
		DrawerNymID:       r.n.signer.NymID(),
		DrawerAccountID:   vault.ID,
		RemitterNymID:     remitter.NymID,
		RemitterAccountID: remitter.ID,
		RecipientNymID:    recipient,
		ValidFrom:         r.now,
		Memo:              memo,
	}

	if r.n.voucherLifetime > 0 {
		voucher.ValidTo = r.now.Add(r.n.voucherLifetime)
	}

	SignCheque(r.n.signer, voucher)
	return voucher, nil
}
