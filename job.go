package notary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// processCronItem runs one cron item under the lease of its accounts. The
// record is reloaded under the lease, so an item cancelled in the meantime
// is dropped without effect.
func (n *Notary) processCronItem(ctx context.Context, number TxNumber, now time.Time) error {
	entry, ok := n.cron.entry(number)
	if !ok {
		return nil
	}

	accounts := entry.accounts
	var counter TxNumber
	if entry.kind == CronTrade {
		if match, ok := n.book.match(number); ok {
			counter = match.number
			accounts = append(append([]string{}, accounts...), match.accounts...)
		}
	}

	lease := n.locks.Acquire(nil, accounts)
	defer lease.Release()

	txn := n.store.db.NewTransaction(true)
	defer txn.Discard()

	s := newSession(n, txn, lease, now)
	rec, err := findCronRecord(txn, number)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			n.cron.remove(number)
			return nil
		}

		return err
	}

	if rec.State != StateActive {
		n.cron.remove(number)
		n.book.remove(number)
		return nil
	}

	log := slog.With(slog.Int64("number", int64(number)), slog.String("kind", string(rec.Kind)))

	var state CronState
	switch rec.Kind {
	case CronPaymentPlan:
		state, err = n.runPlan(s, rec, now)
	case CronSmartContract:
		state, err = n.runContract(s, rec, now)
	case CronTrade:
		state, err = n.runTrade(s, rec, counter, now)
	default:
		err = fmt.Errorf("unknown cron kind %q", rec.Kind)
	}

	if err != nil {
		if f := (*Failure)(nil); errors.As(err, &f) && f.Kind == IntegrityFailure {
			alertIntegrity(f, "number", number)
		}

		return err
	}

	rec.LastProcessed = now
	if err := s.settle(rec, state); err != nil {
		return err
	}

	snapshots, err := s.commit()
	if err != nil {
		return err
	}

	if state != StateActive {
		log.Info("cron item closed", "state", state)
	}

	n.notify(ctx, snapshots)
	return nil
}

// settle stores rec in its new state. A terminal state posts a final
// receipt to every account of the item and drops it from the registry.
func (s *session) settle(rec *CronRecord, state CronState) error {
	if state.Terminal() {
		rec.State = state
		rec.ClosedAt = s.now

		for _, accountID := range rec.Accounts {
			a, err := s.account(accountID)
			if err != nil {
				return err
			}

			if err := s.post(accountID, Inbox, &LedgerItem{
				Type:      ReceiptFinal,
				Reference: rec.Number,
				AccountID: a.ID,
				NymID:     a.NymID,
				Note:      string(state),
			}); err != nil {
				return err
			}
		}

		number := rec.Number
		s.afterCommit(func() {
			s.n.cron.remove(number)
			s.n.book.remove(number)
		})
	}

	return saveCronRecord(s.txn, rec)
}

func (n *Notary) runPlan(s *session, rec *CronRecord, now time.Time) (CronState, error) {
	t := rec.Plan.Terms()
	return rec.Plan.ProcessCron(now, n.failureLimit, func(amount int64) (bool, error) {
		return s.charge(rec.Number, t.Sender.AccountID, t.Recipient.AccountID, amount)
	})
}

// charge moves a scheduled payment between two held accounts, posting a
// paymentReceipt to both inboxes. It reports false when the payer cannot
// cover the amount.
func (s *session) charge(number TxNumber, from, to string, amount int64) (bool, error) {
	payer, err := s.account(from)
	if err != nil {
		return false, err
	}

	payee, err := s.account(to)
	if err != nil {
		return false, err
	}

	if payer.UnitID != payee.UnitID {
		return false, integrity(ReasonUnitMismatch, "cron item %d pays across units", number)
	}

	if payer.Balance < amount {
		slog.Warn("scheduled payment failed", "number", number, "account", payer.ID, "balance", payer.Balance, "amount", amount)
		return false, nil
	}

	if err := s.move(payer, payee, amount); err != nil {
		return false, err
	}

	for _, pair := range [][2]*Account{{payer, payee}, {payee, payer}} {
		owner, other := pair[0], pair[1]
		if err := s.post(owner.ID, Inbox, &LedgerItem{
			Type:      ReceiptPayment,
			Reference: number,
			AccountID: other.ID,
			NymID:     other.NymID,
			Amount:    amount,
		}); err != nil {
			return false, err
		}
	}

	return true, nil
}
