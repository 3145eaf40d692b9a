package notary

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueBasket(t *testing.T) {
	f := newFixture(t)

	_, err := f.n.IssueBasket(f.ctx, "bsk", "Basket", 2, Basket{})
	assert.Equal(t, ReasonMalformed, AsFailure(err).Reason)

	_, err = f.n.IssueBasket(f.ctx, "bsk", "Basket", 2, Basket{
		Subs:            []BasketSub{{UnitID: "nope", Weight: 1}},
		MinimumTransfer: 1,
	})
	assert.Equal(t, ReasonUnknownUnit, AsFailure(err).Reason)

	unit, err := f.n.IssueBasket(f.ctx, "bsk", "Basket", 2, Basket{
		Subs:            []BasketSub{{UnitID: "usd", Weight: 100}},
		MinimumTransfer: 10,
	})
	require.NoError(t, err)
	require.NotNil(t, unit.Basket)

	_, err = f.n.IssueBasket(f.ctx, "bsk", "Basket", 2, *unit.Basket)
	assert.Error(t, err, "basket ids are unique")

	alice := f.nym()
	a := f.account(alice, "bsk")
	_, err = f.n.Issue(f.ctx, a.ID, 10)
	assert.Equal(t, ReasonUnitMismatch, AsFailure(err).Reason)
}

func TestExchangeBasket(t *testing.T) {
	f := newFixture(t)
	_, err := f.n.RegisterUnit(f.ctx, "eur", "Euro", 2)
	require.NoError(t, err)

	_, err = f.n.IssueBasket(f.ctx, "bsk", "Basket", 2, Basket{
		Subs:            []BasketSub{{UnitID: "usd", Weight: 100}, {UnitID: "eur", Weight: 50}},
		MinimumTransfer: 10,
	})
	require.NoError(t, err)

	alice := f.nym()
	usd, eur, bsk := f.account(alice, "usd"), f.account(alice, "eur"), f.account(alice, "bsk")
	f.fund(usd.ID, 1000)
	f.fund(eur.ID, 1000)
	f.grant(alice, 7)

	exchange := func(in bool, multiple int64, delta int64) (*Transaction, bool) {
		tx := f.sign(alice, &Transaction{
			Type:      TransactionExchangeBasket,
			Number:    alice.next(t),
			AccountID: bsk.ID,
			Items: []*Item{
				{Type: ItemExchangeBasket, Basket: &BasketExchange{In: in, Multiple: multiple, SubAccounts: []string{usd.ID, eur.ID}}},
				f.agreement(bsk.ID, delta, 0, 0),
			},
		})

		return f.n.NotarizeExchangeBasket(f.ctx, tx)
	}

	out, ok := exchange(true, 2, 20)
	require.True(t, ok, out.Items[0].Note)
	assert.EqualValues(t, 20, f.balance(bsk.ID))
	assert.EqualValues(t, 800, f.balance(usd.ID))
	assert.EqualValues(t, 900, f.balance(eur.ID))
	assert.Zero(t, f.total("usd"))
	assert.Zero(t, f.total("eur"))

	receipt := findReceipt(t, f, usd.ID, ReceiptBasket)
	assert.EqualValues(t, 200, receipt.Amount)
	assert.Equal(t, bsk.ID, receipt.AccountID)

	out, ok = exchange(false, 1, -10)
	require.True(t, ok, out.Items[0].Note)
	assert.EqualValues(t, 10, f.balance(bsk.ID))
	assert.EqualValues(t, 900, f.balance(usd.ID))
	assert.EqualValues(t, 950, f.balance(eur.ID))

	t.Run("more than held", func(t *testing.T) {
		out, ok := exchange(false, 5, -50)
		assert.False(t, ok)
		assert.Equal(t, ReasonInsufficientFunds, rejection(t, out).Reason)
		assert.EqualValues(t, 10, f.balance(bsk.ID))
	})

	t.Run("sub-accounts out of order", func(t *testing.T) {
		tx := f.sign(alice, &Transaction{
			Type:      TransactionExchangeBasket,
			Number:    alice.next(t),
			AccountID: bsk.ID,
			Items: []*Item{
				{Type: ItemExchangeBasket, Basket: &BasketExchange{In: true, Multiple: 1, SubAccounts: []string{eur.ID, usd.ID}}},
				f.agreement(bsk.ID, 10, 0, 0),
			},
		})

		out, ok := f.n.NotarizeExchangeBasket(f.ctx, tx)
		assert.False(t, ok)
		assert.Equal(t, ReasonUnitMismatch, rejection(t, out).Reason)
	})
	t.Run("multiple overflows", func(t *testing.T) {
		out, ok := exchange(true, 1<<62, 0)
		assert.False(t, ok)
		assert.Equal(t, ReasonInvalidAmount, rejection(t, out).Reason)

		out, ok = exchange(true, math.MaxInt64/10, 0)
		assert.False(t, ok)
		assert.Equal(t, ReasonInvalidAmount, rejection(t, out).Reason)

		assert.EqualValues(t, 10, f.balance(bsk.ID))
		assert.EqualValues(t, 900, f.balance(usd.ID))
		assert.EqualValues(t, 950, f.balance(eur.ID))
	})
}

func TestExchangeBasketWeightOverflow(t *testing.T) {
	f := newFixture(t)
	_, err := f.n.IssueBasket(f.ctx, "bsk", "Basket", 0, Basket{
		Subs:            []BasketSub{{UnitID: "usd", Weight: 2}},
		MinimumTransfer: 1,
	})
	require.NoError(t, err)

	alice := f.nym()
	usd, bsk := f.account(alice, "usd"), f.account(alice, "bsk")
	f.grant(alice, 1)

	// the basket side fits in int64, the usd leg does not
	tx := f.sign(alice, &Transaction{
		Type:      TransactionExchangeBasket,
		Number:    alice.next(t),
		AccountID: bsk.ID,
		Items: []*Item{
			{Type: ItemExchangeBasket, Basket: &BasketExchange{In: true, Multiple: 1 << 62, SubAccounts: []string{usd.ID}}},
			f.agreement(bsk.ID, 1<<62, 0, 0),
		},
	})

	out, ok := f.n.NotarizeExchangeBasket(f.ctx, tx)
	assert.False(t, ok)
	assert.Equal(t, ReasonInvalidAmount, rejection(t, out).Reason)
	assert.Zero(t, f.balance(usd.ID))
	assert.Zero(t, f.balance(bsk.ID))
	assert.Zero(t, f.total("usd"))
}
