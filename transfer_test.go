package notary

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) transfer(c *client, from, to string, amount int64, stmt *Item) (*Transaction, bool) {
	number := c.next(f.t)
	tx := f.sign(c, &Transaction{
		Type:      TransactionTransfer,
		Number:    number,
		AccountID: from,
		Items:     []*Item{{Type: ItemTransfer, Amount: amount, Destination: to}, stmt},
	})

	return f.n.NotarizeTransfer(f.ctx, tx)
}

func TestTransfer(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.nym(), f.nym()
	a, b := f.account(alice, "usd"), f.account(bob, "usd")
	f.fund(a.ID, 1000)
	f.grant(alice, 10)

	number := alice.numbers[0]
	out, ok := f.transfer(alice, a.ID, b.ID, 300, f.agreement(a.ID, -300, 0, 1))
	require.True(t, ok, out.Items[0].Note)

	assert.Equal(t, number, out.InReferenceTo)
	assert.EqualValues(t, 700, f.balance(a.ID))
	assert.EqualValues(t, 300, f.balance(b.ID))
	assert.Zero(t, f.total("usd"))

	c := f.context(alice)
	assert.True(t, c.Used(number))
	assert.False(t, c.Available(number))

	outbox, err := f.n.Ledger(f.ctx, a.ID, Outbox)
	require.NoError(t, err)
	require.Len(t, outbox.Items, 1)
	assert.Equal(t, number, outbox.Items[0].Number)
	assert.Equal(t, RecordTransfer, outbox.Items[0].Type)

	inbox, err := f.n.Ledger(f.ctx, b.ID, Inbox)
	require.NoError(t, err)
	require.Len(t, inbox.Items, 1)
	assert.Equal(t, ReceiptTransfer, inbox.Items[0].Type)
	assert.Equal(t, number, inbox.Items[0].Reference)
	assert.EqualValues(t, 300, inbox.Items[0].Amount)

	t.Run("balance mismatch", func(t *testing.T) {
		number := alice.numbers[0]
		out, ok := f.transfer(alice, a.ID, b.ID, 100, f.agreement(a.ID, -99, 0, 1))
		assert.False(t, ok)

		item := rejection(t, out)
		assert.Equal(t, ValidationFailure, item.Kind)
		assert.Equal(t, ReasonBalanceMismatch, item.Reason)
		assert.EqualValues(t, 700, f.balance(a.ID))
		assert.True(t, f.context(alice).Available(number), "rejected request keeps its number")
	})

	t.Run("insufficient funds", func(t *testing.T) {
		out, ok := f.transfer(alice, a.ID, b.ID, 5000, f.agreement(a.ID, -5000, 0, 1))
		assert.False(t, ok)

		item := rejection(t, out)
		assert.Equal(t, BusinessRuleFailure, item.Kind)
		assert.Equal(t, ReasonInsufficientFunds, item.Reason)
		assert.EqualValues(t, 700, f.balance(a.ID))
	})

	t.Run("missing agreement", func(t *testing.T) {
		out, ok := f.transfer(alice, a.ID, b.ID, 10, &Item{Type: ItemBalanceStatement})
		assert.False(t, ok)
		assert.Equal(t, ReasonMissingAgreement, rejection(t, out).Reason)
	})

	t.Run("number reuse", func(t *testing.T) {
		tx := f.sign(alice, &Transaction{
			Type:      TransactionTransfer,
			Number:    number,
			AccountID: a.ID,
			Items:     []*Item{{Type: ItemTransfer, Amount: 1, Destination: b.ID}, f.agreement(a.ID, -1, 0, 1)},
		})

		out, ok := f.n.NotarizeTransfer(f.ctx, tx)
		assert.False(t, ok)
		assert.Equal(t, ReasonNumberUsed, rejection(t, out).Reason)
	})

	t.Run("bad signature", func(t *testing.T) {
		tx := f.sign(alice, &Transaction{
			Type:      TransactionTransfer,
			Number:    alice.next(t),
			AccountID: a.ID,
			Items:     []*Item{{Type: ItemTransfer, Amount: 1, Destination: b.ID}, f.agreement(a.ID, -1, 0, 1)},
		})
		tx.Items[0].Amount = 500

		out, ok := f.n.NotarizeTransfer(f.ctx, tx)
		assert.False(t, ok)
		assert.Equal(t, ReasonBadSignature, rejection(t, out).Reason)
	})

	t.Run("foreign account", func(t *testing.T) {
		f.grant(bob, 1)
		out, ok := f.transfer(bob, a.ID, b.ID, 1, f.agreement(a.ID, -1, 0, 1))
		assert.False(t, ok)
		assert.Equal(t, ReasonNotOwner, rejection(t, out).Reason)
	})

	t.Run("unit mismatch", func(t *testing.T) {
		_, err := f.n.RegisterUnit(f.ctx, "eur", "Euro", 2)
		require.NoError(t, err)
		e := f.account(bob, "eur")

		out, ok := f.transfer(alice, a.ID, e.ID, 1, f.agreement(a.ID, -1, 0, 1))
		assert.False(t, ok)
		assert.Equal(t, ReasonUnitMismatch, rejection(t, out).Reason)
	})
}

func TestTransferOverflow(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.nym(), f.nym()
	a, b := f.account(alice, "usd"), f.account(bob, "usd")
	f.fund(a.ID, 1000)
	// the issuer account now sits at math.MinInt64
	f.fund(b.ID, math.MaxInt64-999)
	f.grant(alice, 2)

	number := alice.numbers[0]
	out, ok := f.transfer(alice, a.ID, b.ID, 1000, f.agreement(a.ID, -1000, 0, 1))
	assert.False(t, ok)
	assert.Equal(t, ReasonInvalidAmount, rejection(t, out).Reason)
	assert.EqualValues(t, 1000, f.balance(a.ID))
	assert.EqualValues(t, int64(math.MaxInt64-999), f.balance(b.ID))
	assert.True(t, f.context(alice).Available(number))
	assert.Equal(t, 1, f.count(b.ID, Inbox), "only the issue receipt")

	out, ok = f.transfer(alice, a.ID, b.ID, 999, f.agreement(a.ID, -999, 0, 1))
	require.True(t, ok, out.Items[0].Note)
	assert.EqualValues(t, int64(math.MaxInt64), f.balance(b.ID))

	_, err := f.n.Issue(f.ctx, a.ID, 1)
	assert.Equal(t, ReasonInvalidAmount, AsFailure(err).Reason, "supply is capped by the issuer balance")
	assert.EqualValues(t, 1, f.balance(a.ID))
	assert.Zero(t, f.total("usd"))
}

func TestTransferSameNumberConcurrently(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.nym(), f.nym()
	a, b := f.account(alice, "usd"), f.account(bob, "usd")
	f.fund(a.ID, 1000)
	f.grant(alice, 1)

	tx := f.sign(alice, &Transaction{
		Type:      TransactionTransfer,
		Number:    alice.next(t),
		AccountID: a.ID,
		Items: []*Item{
			{Type: ItemTransfer, Amount: 100, Destination: b.ID},
			f.agreement(a.ID, -100, 0, 1),
		},
	})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			in := *tx
			if _, ok := f.n.NotarizeTransfer(f.ctx, &in); ok {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, successes)
	assert.EqualValues(t, 900, f.balance(a.ID))
	assert.EqualValues(t, 100, f.balance(b.ID))
	assert.Equal(t, 1, f.count(a.ID, Outbox))
	assert.True(t, f.context(alice).Used(tx.Number))
}

func TestProcessInbox(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.nym(), f.nym()
	a, b := f.account(alice, "usd"), f.account(bob, "usd")
	f.fund(a.ID, 1000)
	f.grant(alice, 10)
	f.grant(bob, 10)

	sent := alice.numbers[0]
	_, ok := f.transfer(alice, a.ID, b.ID, 250, f.agreement(a.ID, -250, 0, 1))
	require.True(t, ok)

	inbox, err := f.n.Ledger(f.ctx, b.ID, Inbox)
	require.NoError(t, err)
	require.Len(t, inbox.Items, 1)

	accept := func(c *client, accountID string, refs []LedgerRef, stmt *Item) (*Transaction, bool) {
		tx := f.sign(c, &Transaction{
			Type:      TransactionProcessInbox,
			Number:    c.next(t),
			AccountID: accountID,
			Items:     []*Item{{Type: ItemAcceptReceipts, Accept: refs}, stmt},
		})
		return f.n.NotarizeProcessInbox(f.ctx, tx)
	}

	t.Run("wrong counts", func(t *testing.T) {
		ref := LedgerRef{Ledger: Inbox, Number: inbox.Items[0].Number}
		out, ok := accept(bob, b.ID, []LedgerRef{ref}, f.agreement(b.ID, 0, 0, 0))
		assert.False(t, ok)
		assert.Equal(t, ReasonBalanceMismatch, rejection(t, out).Reason)
	})

	t.Run("unknown receipt", func(t *testing.T) {
		out, ok := accept(bob, b.ID, []LedgerRef{{Ledger: Inbox, Number: 999999}}, f.agreement(b.ID, 0, -1, 0))
		assert.False(t, ok)
		assert.Equal(t, ReasonNoSuchReceipt, rejection(t, out).Reason)
	})

	t.Run("accept receipt", func(t *testing.T) {
		ref := LedgerRef{Ledger: Inbox, Number: inbox.Items[0].Number}
		out, ok := accept(bob, b.ID, []LedgerRef{ref}, f.agreement(b.ID, 0, -1, 0))
		require.True(t, ok, out.Items[0].Note)
		assert.Zero(t, f.count(b.ID, Inbox))
		assert.EqualValues(t, 250, f.balance(b.ID))
	})

	t.Run("accept issue receipt and outbox record", func(t *testing.T) {
		in, err := f.n.Ledger(f.ctx, a.ID, Inbox)
		require.NoError(t, err)
		require.Len(t, in.Items, 1)

		refs := []LedgerRef{
			{Ledger: Inbox, Number: in.Items[0].Number},
			{Ledger: Outbox, Number: sent},
		}

		out, ok := accept(alice, a.ID, refs, f.agreement(a.ID, 0, -1, -1))
		require.True(t, ok, out.Items[0].Note)
		assert.Zero(t, f.count(a.ID, Inbox))
		assert.Zero(t, f.count(a.ID, Outbox))
	})
}
