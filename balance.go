package notary

import "math"

// addAmount returns a+b and false when the sum leaves the int64 range.
func addAmount(a, b int64) (int64, bool) {
	c := a + b
	if (c > a) != (b > 0) {
		return 0, false
	}

	return c, true
}

// mulAmount returns a*b for non-negative operands and false when the
// product overflows.
func mulAmount(a, b int64) (int64, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}

	if a != 0 && b > math.MaxInt64/a {
		return 0, false
	}

	return a * b, true
}

// reconcile accepts a balance agreement iff it names the account and
// matches the balance and ledger counts the operation will leave behind.
func reconcile(a *Account, inbox, outbox int, delta int64, inboxDelta, outboxDelta int, claim *BalanceAgreement) *Failure {
	if claim.AccountID != a.ID {
		return validation(ReasonBalanceMismatch, "agreement names account %s, expected %s", claim.AccountID, a.ID)
	}

	want, ok := addAmount(a.Balance, delta)
	if !ok {
		return validation(ReasonInvalidAmount, "balance of %s would overflow", a.ID)
	}

	if claim.Balance != want {
		return validation(ReasonBalanceMismatch, "claimed balance %d, expected %d", claim.Balance, want)
	}

	if want := inbox + inboxDelta; claim.InboxCount != want {
		return validation(ReasonBalanceMismatch, "claimed inbox count %d, expected %d", claim.InboxCount, want)
	}

	if want := outbox + outboxDelta; claim.OutboxCount != want {
		return validation(ReasonBalanceMismatch, "claimed outbox count %d, expected %d", claim.OutboxCount, want)
	}

	return nil
}

// agree checks the request's balance statement against the effect the
// routine is about to apply to a. Insufficient funds are reported before
// the statement is looked at.
func (r *request) agree(a *Account, delta int64, inboxDelta, outboxDelta int) error {
	after, ok := addAmount(a.Balance, delta)
	if !ok {
		return validation(ReasonInvalidAmount, "balance of %s would overflow", a.ID)
	}

	if after < 0 {
		return business(ReasonInsufficientFunds, "account %s holds %d, needs %d", a.ID, a.Balance, -delta)
	}

	stmt := r.in.Item(ItemBalanceStatement)
	if stmt == nil || stmt.Agreement == nil {
		return validation(ReasonMissingAgreement, "balance statement missing")
	}

	inbox, err := r.ledger(a.ID, Inbox)
	if err != nil {
		return err
	}

	outbox, err := r.ledger(a.ID, Outbox)
	if err != nil {
		return err
	}

	if f := reconcile(a, inbox.Count(), outbox.Count(), delta, inboxDelta, outboxDelta, stmt.Agreement); f != nil {
		return f
	}

	return nil
}

// state checks the nymbox transaction statement: the nymbox count and the
// number of available transaction numbers once the request is applied.
func (r *request) state(nymbox, available int) error {
	stmt := r.in.Item(ItemTransactionStatement)
	if stmt == nil || stmt.Statement == nil {
		return validation(ReasonMissingAgreement, "transaction statement missing")
	}

	if stmt.Statement.NymboxCount != nymbox || stmt.Statement.Available != available {
		return validation(ReasonStatementMismatch, "claimed nymbox %d available %d, expected %d and %d",
			stmt.Statement.NymboxCount, stmt.Statement.Available, nymbox, available)
	}

	return nil
}
