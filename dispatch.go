package notary

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// request is one notarization in flight. It owns the session staging the
// mutations and the reply item the response will carry.
type request struct {
	*session
	in      *Transaction
	context *ClientContext
	reply   *Item

	noop     bool
	disputes []TxNumber
}

// handler describes one transaction type. scope names the nyms and
// accounts to lock besides the initiator and its account; it runs before
// the lease is taken and may only read immutable data.
type handler struct {
	item     ItemType
	noNumber bool
	scope    func(n *Notary, in *Transaction, item *Item) (nyms, accounts []string, err error)
	run      func(r *request, item *Item) error
}

func (n *Notary) handlers() map[TransactionType]*handler {
	return map[TransactionType]*handler{
		TransactionTransfer:       transferHandler,
		TransactionDeposit:        depositHandler,
		TransactionWithdrawal:     withdrawalHandler,
		TransactionProcessInbox:   processInboxHandler,
		TransactionProcessNymbox:  processNymboxHandler,
		TransactionPaymentPlan:    paymentPlanHandler,
		TransactionSmartContract:  smartContractHandler,
		TransactionCancelCronItem: cancelCronItemHandler,
		TransactionMarketOffer:    marketOfferHandler,
		TransactionExchangeBasket: exchangeBasketHandler,
		TransactionPayDividend:    payDividendHandler,
	}
}

// NotarizeTransaction routes a signed request to the routine of its type.
// It always returns a signed response; success reports whether the
// request took effect.
func (n *Notary) NotarizeTransaction(ctx context.Context, in *Transaction) (*Transaction, bool) {
	var h *handler
	if in != nil {
		h = n.handlers()[in.Type]
	}

	return n.notarize(ctx, in, h)
}

func (n *Notary) NotarizeTransfer(ctx context.Context, in *Transaction) (*Transaction, bool) {
	return n.notarize(ctx, in, transferHandler)
}

func (n *Notary) NotarizeDeposit(ctx context.Context, in *Transaction) (*Transaction, bool) {
	return n.notarize(ctx, in, depositHandler)
}

func (n *Notary) NotarizeWithdrawal(ctx context.Context, in *Transaction) (*Transaction, bool) {
	return n.notarize(ctx, in, withdrawalHandler)
}

func (n *Notary) NotarizeProcessInbox(ctx context.Context, in *Transaction) (*Transaction, bool) {
	return n.notarize(ctx, in, processInboxHandler)
}

func (n *Notary) NotarizeProcessNymbox(ctx context.Context, in *Transaction) (*Transaction, bool) {
	return n.notarize(ctx, in, processNymboxHandler)
}

func (n *Notary) NotarizePaymentPlan(ctx context.Context, in *Transaction) (*Transaction, bool) {
	return n.notarize(ctx, in, paymentPlanHandler)
}

func (n *Notary) NotarizeSmartContract(ctx context.Context, in *Transaction) (*Transaction, bool) {
	return n.notarize(ctx, in, smartContractHandler)
}

func (n *Notary) NotarizeCancelCronItem(ctx context.Context, in *Transaction) (*Transaction, bool) {
	return n.notarize(ctx, in, cancelCronItemHandler)
}

func (n *Notary) NotarizeMarketOffer(ctx context.Context, in *Transaction) (*Transaction, bool) {
	return n.notarize(ctx, in, marketOfferHandler)
}

func (n *Notary) NotarizeExchangeBasket(ctx context.Context, in *Transaction) (*Transaction, bool) {
	return n.notarize(ctx, in, exchangeBasketHandler)
}

func (n *Notary) NotarizePayDividend(ctx context.Context, in *Transaction) (*Transaction, bool) {
	return n.notarize(ctx, in, payDividendHandler)
}

func (n *Notary) notarize(ctx context.Context, in *Transaction, h *handler) (*Transaction, bool) {
	out := &Transaction{
		NotaryID:  n.id,
		NymID:     n.signer.NymID(),
		CreatedAt: n.now(),
	}

	reply := &Item{Status: StatusAcknowledgement}
	if in != nil {
		out.Number = in.Number
		out.Type = in.Type
		out.AccountID = in.AccountID
		out.InReferenceTo = in.Number
		if d, err := n.hasher.Hash(SHA256, in.payload()); err == nil {
			out.RequestHash = d.String()
		}

		if h != nil {
			reply.Type = h.item
		}
	}

	snapshots, err := n.execute(in, h, reply)
	if err != nil {
		f := AsFailure(err)
		reply = &Item{
			Type:   reply.Type,
			Status: StatusRejection,
			Kind:   f.Kind,
			Reason: f.Reason,
			Note:   f.Msg,
		}

		switch f.Kind {
		case IntegrityFailure:
			alertIntegrity(f, "tx", out.Number, "nym", nymOf(in))
		case InternalFailure:
			slog.Error("notarize failed", slog.Any("err", err), "tx", out.Number, "type", out.Type)
		default:
			slog.Info("notarize rejected", "tx", out.Number, "type", out.Type, "reason", f.Reason)
		}
	}

	out.Success = reply.Status == StatusAcknowledgement
	out.Items = append(out.Items, reply)
	if in != nil {
		if stmt := in.Item(ItemBalanceStatement); stmt != nil {
			echo := *stmt
			echo.Status = reply.Status
			out.Items = append(out.Items, &echo)
		}
	}

	SignTransaction(n.signer, out)

	if out.Success {
		n.notify(ctx, snapshots)
	}

	return out, out.Success
}

func nymOf(in *Transaction) string {
	if in == nil {
		return ""
	}

	return in.NymID
}

// execute runs one request under its lease inside a single badger
// transaction. Any returned error means nothing was written.
func (n *Notary) execute(in *Transaction, h *handler, reply *Item) ([]LedgerSnapshot, error) {
	if in == nil || h == nil {
		return nil, validation(ReasonMalformed, "unsupported transaction")
	}

	if in.NotaryID != n.id {
		return nil, validation(ReasonWrongNotary, "transaction addressed to %q", in.NotaryID)
	}

	item := in.Item(h.item)
	if item == nil {
		return nil, validation(ReasonMalformed, "%s item missing", h.item)
	}

	if err := n.verifySignature(in.NymID, in.payload(), in.Signature); err != nil {
		return nil, err
	}

	var nyms, accounts []string
	if h.scope != nil {
		var err error
		if nyms, accounts, err = h.scope(n, in, item); err != nil {
			return nil, err
		}
	}

	lease := n.locks.Acquire(append(nyms, in.NymID), append(accounts, in.AccountID))
	defer lease.Release()

	txn := n.store.db.NewTransaction(true)
	defer txn.Discard()

	r := &request{
		session: newSession(n, txn, lease, n.now()),
		in:      in,
		reply:   reply,
	}

	var err error
	if r.context, err = r.clientContext(in.NymID); err != nil {
		return nil, err
	}

	if !h.noNumber {
		if f := r.context.verify(in.Number); f != nil {
			return nil, f
		}
	}

	if in.AccountID != "" {
		account, err := r.account(in.AccountID)
		if err != nil {
			return nil, err
		}

		if account.NymID != in.NymID {
			return nil, validation(ReasonNotOwner, "account %s is not owned by %s", in.AccountID, in.NymID)
		}
	}

	if err := h.run(r, item); err != nil {
		txn.Discard()
		n.recordDisputes(in.NymID, r.disputes)
		return nil, err
	}

	if r.noop {
		return nil, nil
	}

	if !h.noNumber {
		if f := r.context.consume(in.Number); f != nil {
			return nil, f
		}

		r.contextChanged(r.context)
	}

	return r.commit()
}

// recordDisputes persists evidence of numbers a nym presented but no
// longer owns. The caller still holds the nym lease.
func (n *Notary) recordDisputes(nymID string, numbers []TxNumber) {
	if len(numbers) == 0 {
		return
	}

	err := n.store.Update(func(txn *badger.Txn) error {
		c, err := findClientContext(txn, nymID)
		if err != nil {
			return err
		}

		for _, number := range numbers {
			c.dispute(number)
		}

		return saveClientContext(txn, c)
	})

	if err != nil && !errors.Is(err, ErrNotFound) {
		slog.Error("record disputes failed", slog.Any("err", err), "nym", nymID)
	}
}

// accountUnit reads the unit of an account before locking. Units never
// change once an account exists.
func accountUnit(n *Notary, accountID string) (string, error) {
	var unitID string
	err := n.store.View(func(txn *badger.Txn) error {
		a, err := findAccount(txn, accountID)
		if err != nil {
			return err
		}

		unitID = a.UnitID
		return nil
	})

	if errors.Is(err, ErrNotFound) {
		return "", validation(ReasonUnknownAccount, "account %s not found", accountID)
	}

	return unitID, err
}
