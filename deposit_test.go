package notary

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) cheque(drawer *client, from *Account, amount int64, recipient string) *Cheque {
	c := &Cheque{
		NotaryID:        testNotaryID,
		UnitID:          from.UnitID,
		Number:          drawer.next(f.t),
		Amount:          amount,
		DrawerNymID:     drawer.NymID(),
		DrawerAccountID: from.ID,
		RecipientNymID:  recipient,
		ValidFrom:       f.clock.Now(),
		ValidTo:         f.clock.Now().Add(24 * time.Hour),
	}

	SignCheque(drawer, c)
	return c
}

func (f *fixture) deposit(c *client, accountID string, cheque *Cheque, cancel bool, stmt *Item) (*Transaction, bool) {
	tx := f.sign(c, &Transaction{
		Type:      TransactionDeposit,
		Number:    c.next(f.t),
		AccountID: accountID,
		Items:     []*Item{{Type: ItemDeposit, Cheque: cheque, Cancel: cancel}, stmt},
	})

	return f.n.NotarizeDeposit(f.ctx, tx)
}

func (f *fixture) withdraw(c *client, accountID string, amount int64, recipient string) *Cheque {
	tx := f.sign(c, &Transaction{
		Type:      TransactionWithdrawal,
		Number:    c.next(f.t),
		AccountID: accountID,
		Items: []*Item{
			{Type: ItemWithdrawal, Amount: amount, Recipient: recipient},
			f.agreement(accountID, -amount, 0, 0),
		},
	})

	out, ok := f.n.NotarizeWithdrawal(f.ctx, tx)
	require.True(f.t, ok, out.Items[0].Note)
	require.NotNil(f.t, out.Items[0].Cheque)
	return out.Items[0].Cheque
}

func TestDepositCheque(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.nym(), f.nym()
	a, b := f.account(alice, "usd"), f.account(bob, "usd")
	f.fund(a.ID, 500)
	f.grant(alice, 5)
	f.grant(bob, 5)

	c := f.cheque(alice, a, 200, bob.NymID())

	t.Run("wrong recipient", func(t *testing.T) {
		carol := f.nym()
		cc := f.account(carol, "usd")
		f.grant(carol, 1)

		out, ok := f.deposit(carol, cc.ID, c, false, f.agreement(cc.ID, 200, 0, 0))
		assert.False(t, ok)
		assert.Equal(t, ReasonNotParty, rejection(t, out).Reason)
	})

	t.Run("forged cheque", func(t *testing.T) {
		forged := *c
		forged.Amount = 400

		out, ok := f.deposit(bob, b.ID, &forged, false, f.agreement(b.ID, 400, 0, 0))
		assert.False(t, ok)
		assert.Equal(t, ReasonBadSignature, rejection(t, out).Reason)
	})

	out, ok := f.deposit(bob, b.ID, c, false, f.agreement(b.ID, 200, 0, 0))
	require.True(t, ok, out.Items[0].Note)

	assert.EqualValues(t, 300, f.balance(a.ID))
	assert.EqualValues(t, 200, f.balance(b.ID))
	assert.True(t, f.context(alice).Used(c.Number))

	inbox, err := f.n.Ledger(f.ctx, a.ID, Inbox)
	require.NoError(t, err)
	require.Len(t, inbox.Items, 2)
	assert.Equal(t, ReceiptCheque, inbox.Items[1].Type)
	assert.Equal(t, c.Number, inbox.Items[1].Reference)

	t.Run("deposit twice", func(t *testing.T) {
		out, ok := f.deposit(bob, b.ID, c, false, f.agreement(b.ID, 200, 0, 0))
		assert.False(t, ok)
		assert.Equal(t, ReasonNumberUsed, rejection(t, out).Reason)
		assert.EqualValues(t, 200, f.balance(b.ID))
	})
}

func TestChequeValidity(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.nym(), f.nym()
	a, b := f.account(alice, "usd"), f.account(bob, "usd")
	f.fund(a.ID, 500)
	f.grant(alice, 5)
	f.grant(bob, 5)

	c := f.cheque(alice, a, 100, "")
	f.clock.Add(48 * time.Hour)

	out, ok := f.deposit(bob, b.ID, c, false, f.agreement(b.ID, 100, 0, 0))
	assert.False(t, ok)

	item := rejection(t, out)
	assert.Equal(t, BusinessRuleFailure, item.Kind)
	assert.Equal(t, ReasonExpired, item.Reason)
	assert.True(t, f.context(alice).Available(c.Number))
}

func TestCancelCheque(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.nym(), f.nym()
	a, b := f.account(alice, "usd"), f.account(bob, "usd")
	f.fund(a.ID, 500)
	f.grant(alice, 5)
	f.grant(bob, 5)

	c := f.cheque(alice, a, 100, bob.NymID())

	out, ok := f.deposit(alice, a.ID, c, true, f.agreement(a.ID, 0, 1, 0))
	require.True(t, ok, out.Items[0].Note)
	assert.EqualValues(t, 500, f.balance(a.ID))
	assert.True(t, f.context(alice).Used(c.Number))

	out, ok = f.deposit(bob, b.ID, c, false, f.agreement(b.ID, 100, 0, 0))
	assert.False(t, ok)
	assert.Equal(t, ReasonNumberUsed, rejection(t, out).Reason)
	assert.Zero(t, f.balance(b.ID))
}

func TestVoucher(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.nym(), f.nym()
	a, b := f.account(alice, "usd"), f.account(bob, "usd")
	f.fund(a.ID, 500)
	f.grant(alice, 5)
	f.grant(bob, 5)

	v := f.withdraw(alice, a.ID, 150, bob.NymID())
	assert.True(t, v.IsVoucher())
	assert.Equal(t, f.n.ServerNymID(), v.DrawerNymID)
	assert.Equal(t, alice.NymID(), v.RemitterNymID)
	assert.EqualValues(t, 350, f.balance(a.ID))
	assert.EqualValues(t, 150, f.balance(v.DrawerAccountID))
	assert.Zero(t, f.total("usd"))

	nymbox := f.count(alice.NymID(), Nymbox)

	out, ok := f.deposit(bob, b.ID, v, false, f.agreement(b.ID, 150, 0, 0))
	require.True(t, ok, out.Items[0].Note)
	assert.EqualValues(t, 150, f.balance(b.ID))
	assert.Zero(t, f.balance(v.DrawerAccountID))
	assert.Equal(t, nymbox+1, f.count(alice.NymID(), Nymbox), "remitter learns of the deposit")

	t.Run("remitter cannot cancel a deposited voucher", func(t *testing.T) {
		out, ok := f.deposit(alice, a.ID, v, true, f.agreement(a.ID, 150, 0, 0))
		assert.False(t, ok)
		assert.Equal(t, ReasonNumberUsed, rejection(t, out).Reason)
	})
}

func TestCancelVoucher(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.nym(), f.nym()
	a := f.account(alice, "usd")
	f.fund(a.ID, 500)
	f.grant(alice, 5)
	f.grant(bob, 5)

	v := f.withdraw(alice, a.ID, 200, bob.NymID())
	assert.EqualValues(t, 300, f.balance(a.ID))

	t.Run("only the remitter cancels", func(t *testing.T) {
		b := f.account(bob, "usd")
		out, ok := f.deposit(bob, b.ID, v, true, f.agreement(b.ID, 200, 0, 0))
		assert.False(t, ok)
		assert.Equal(t, ReasonNotOwner, rejection(t, out).Reason)
	})

	out, ok := f.deposit(alice, a.ID, v, true, f.agreement(a.ID, 200, 0, 0))
	require.True(t, ok, out.Items[0].Note)
	assert.EqualValues(t, 500, f.balance(a.ID))
	assert.Zero(t, f.balance(v.DrawerAccountID))
}

func TestVoucherLifetime(t *testing.T) {
	f := newFixture(t, WithVoucherLifetime(time.Hour))
	alice, bob := f.nym(), f.nym()
	a, b := f.account(alice, "usd"), f.account(bob, "usd")
	f.fund(a.ID, 100)
	f.grant(alice, 2)
	f.grant(bob, 2)

	v := f.withdraw(alice, a.ID, 100, "")
	assert.Equal(t, f.clock.Now().Add(time.Hour), v.ValidTo)

	f.clock.Add(2 * time.Hour)
	out, ok := f.deposit(bob, b.ID, v, false, f.agreement(b.ID, 100, 0, 0))
	assert.False(t, ok)
	assert.Equal(t, ReasonExpired, rejection(t, out).Reason)

	// expiry does not stop the remitter from taking the funds back
	out, ok = f.deposit(alice, a.ID, v, true, f.agreement(a.ID, 100, 0, 0))
	require.True(t, ok, out.Items[0].Note)
	assert.EqualValues(t, 100, f.balance(a.ID))
}
