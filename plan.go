package notary

import (
	"bytes"
	"encoding/json"
	"time"

	g "github.com/pandodao/generic"
)

// Party is one side of an agreement with the two transaction numbers it
// pledged: the opening number names the agreement, the closing number
// closes it.
type Party struct {
	NymID     string   `json:"nym_id"`
	AccountID string   `json:"account_id"`
	Opening   TxNumber `json:"opening"`
	Closing   TxNumber `json:"closing"`
}

type InitialPayment struct {
	Amount int64         `json:"amount"`
	Delay  time.Duration `json:"delay"`
}

// RecurringPayment charges Amount every Period starting Delay after the
// agreement was created. Length and MaxPayments bound it when non zero.
type RecurringPayment struct {
	Amount      int64         `json:"amount"`
	Delay       time.Duration `json:"delay"`
	Period      time.Duration `json:"period"`
	Length      time.Duration `json:"length,omitempty"`
	MaxPayments int           `json:"max_payments,omitempty"`
}

type PlanTerms struct {
	NotaryID      string            `json:"notary_id"`
	UnitID        string            `json:"unit_id"`
	Sender        Party             `json:"sender"`
	Recipient     Party             `json:"recipient"`
	Consideration string            `json:"consideration,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	ValidFrom     time.Time         `json:"valid_from"`
	ValidTo       time.Time         `json:"valid_to,omitempty"`
	Initial       *InitialPayment   `json:"initial,omitempty"`
	Recurring     *RecurringPayment `json:"recurring,omitempty"`
}

func (t PlanTerms) payload() []byte {
	return g.Must(json.Marshal(t))
}

type SignedTerms struct {
	Terms     PlanTerms `json:"terms"`
	Signature []byte    `json:"signature"`
}

type PlanHistory struct {
	InitialDone     bool      `json:"initial_done,omitempty"`
	InitialPaidAt   time.Time `json:"initial_paid_at,omitempty"`
	InitialFailures int       `json:"initial_failures,omitempty"`
	InitialFailedAt time.Time `json:"initial_failed_at,omitempty"`
	PaymentsDone    int       `json:"payments_done,omitempty"`
	PaymentsFailed  int       `json:"payments_failed,omitempty"`
	LastPaymentAt   time.Time `json:"last_payment_at,omitempty"`
	LastFailureAt   time.Time `json:"last_failure_at,omitempty"`
	NextDue         time.Time `json:"next_due,omitempty"`
}

// PaymentPlan holds both signed copies of a plan. The merchant (recipient)
// signs first; the customer (sender) countersigns a copy carrying its own
// numbers and a fresh creation date.
type PaymentPlan struct {
	Merchant SignedTerms `json:"merchant"`
	Customer SignedTerms `json:"customer"`
	History  PlanHistory `json:"history"`
}

// ProposePlan is the merchant's half: the sender numbers are left empty.
func ProposePlan(s Signer, terms PlanTerms) *PaymentPlan {
	terms.Sender.Opening = 0
	terms.Sender.Closing = 0

	return &PaymentPlan{
		Merchant: SignedTerms{Terms: terms, Signature: s.Sign(terms.payload())},
	}
}

// ConfirmPlan countersigns a proposed plan as the customer.
func ConfirmPlan(s Signer, p *PaymentPlan, opening, closing TxNumber, now time.Time) {
	terms := p.Merchant.Terms
	terms.Sender.Opening = opening
	terms.Sender.Closing = closing
	terms.CreatedAt = now

	p.Customer = SignedTerms{Terms: terms, Signature: s.Sign(terms.payload())}
}

// Terms are the binding terms, taken from the countersigned copy.
func (p *PaymentPlan) Terms() *PlanTerms {
	return &p.Customer.Terms
}

// VerifyAgreement checks each copy against its signer and then that both
// copies carry the same terms.
func (p *PaymentPlan) VerifyAgreement(v Verifier, merchant, customer PublicIdentity) *Failure {
	if merchant.NymID != p.Merchant.Terms.Recipient.NymID {
		return validation(ReasonNotParty, "merchant copy must be signed by the recipient")
	}

	if customer.NymID != p.Customer.Terms.Sender.NymID {
		return validation(ReasonNotParty, "customer copy must be signed by the sender")
	}

	if !v.Verify(merchant, SignedPayload{Data: p.Merchant.Terms.payload(), Signature: p.Merchant.Signature}) {
		return validation(ReasonBadSignature, "merchant signature does not verify")
	}

	if !v.Verify(customer, SignedPayload{Data: p.Customer.Terms.payload(), Signature: p.Customer.Signature}) {
		return validation(ReasonBadSignature, "customer signature does not verify")
	}

	return p.CompareAgreement()
}

// CompareAgreement reports an integrity failure when the copies disagree
// on anything but the sender numbers and the creation date.
func (p *PaymentPlan) CompareAgreement() *Failure {
	a, b := p.Merchant.Terms, p.Customer.Terms
	a.Sender.Opening, a.Sender.Closing, a.CreatedAt = 0, 0, time.Time{}
	b.Sender.Opening, b.Sender.Closing, b.CreatedAt = 0, 0, time.Time{}

	if !bytes.Equal(a.payload(), b.payload()) {
		return integrity(ReasonAgreementMismatch, "merchant and customer copies disagree")
	}

	return nil
}

func (p *PaymentPlan) validate() *Failure {
	t := p.Terms()
	if t.Initial == nil && t.Recurring == nil {
		return validation(ReasonMalformed, "plan has neither initial nor recurring payment")
	}

	if t.Initial != nil && t.Initial.Amount <= 0 {
		return validation(ReasonInvalidAmount, "initial payment must be positive")
	}

	if r := t.Recurring; r != nil {
		if r.Amount <= 0 {
			return validation(ReasonInvalidAmount, "recurring payment must be positive")
		}

		if r.Period <= 0 {
			return validation(ReasonMalformed, "recurring period must be positive")
		}
	}

	if t.Sender.AccountID == t.Recipient.AccountID {
		return validation(ReasonMalformed, "plan pays into its own account")
	}

	numbers := []TxNumber{t.Sender.Opening, t.Sender.Closing}
	if t.Sender.Opening == t.Sender.Closing || t.Recipient.Opening == t.Recipient.Closing {
		return validation(ReasonMalformed, "opening and closing numbers must differ")
	}

	for _, n := range append(numbers, t.Recipient.Opening, t.Recipient.Closing) {
		if n <= 0 {
			return validation(ReasonMalformed, "plan numbers must be set")
		}
	}

	return nil
}

func (p *PaymentPlan) recurringStart() time.Time {
	t := p.Terms()
	return maxDate(t.CreatedAt.Add(t.Recurring.Delay), t.ValidFrom)
}

// exhausted reports whether the recurring leg can charge no more.
func (p *PaymentPlan) exhausted(now time.Time) bool {
	r, h := p.Terms().Recurring, &p.History
	if r.MaxPayments > 0 && h.PaymentsDone >= r.MaxPayments {
		return true
	}

	if r.Length > 0 {
		end := p.recurringStart().Add(r.Length)
		if !h.NextDue.Before(end) || !now.Before(end) {
			return true
		}
	}

	return false
}

// ProcessCron advances the plan by one tick. pay attempts a charge and
// reports whether the sender could cover it. The returned state is
// StateActive while the plan stays scheduled.
func (p *PaymentPlan) ProcessCron(now time.Time, failureLimit int, pay func(amount int64) (bool, error)) (CronState, error) {
	t, h := p.Terms(), &p.History

	if !t.ValidTo.IsZero() && now.After(t.ValidTo) {
		return StateExpired, nil
	}

	if now.Before(t.ValidFrom) {
		return StateActive, nil
	}

	if t.Initial != nil && !h.InitialDone {
		if now.Before(t.CreatedAt.Add(t.Initial.Delay)) {
			return StateActive, nil
		}

		ok, err := pay(t.Initial.Amount)
		if err != nil {
			return StateActive, err
		}

		if !ok {
			h.InitialFailures++
			h.InitialFailedAt = now
			return StateActive, nil
		}

		h.InitialDone = true
		h.InitialPaidAt = now
		if t.Recurring == nil {
			return StateCompleted, nil
		}

		return StateActive, nil
	}

	if t.Recurring == nil {
		return StateCompleted, nil
	}

	start := p.recurringStart()
	if h.NextDue.IsZero() {
		h.NextDue = start
	}

	if p.exhausted(now) {
		return StateCompleted, nil
	}

	if now.Before(h.NextDue) {
		return StateActive, nil
	}

	ok, err := pay(t.Recurring.Amount)
	if err != nil {
		return StateActive, err
	}

	if !ok {
		h.PaymentsFailed++
		h.LastFailureAt = now
		if failureLimit > 0 && h.PaymentsFailed >= failureLimit {
			return StateFailedTerminal, nil
		}

		return StateActive, nil
	}

	h.PaymentsDone++
	h.LastPaymentAt = now
	h.NextDue = nextBoundary(start, t.Recurring.Period, now)

	if p.exhausted(now) {
		return StateCompleted, nil
	}

	return StateActive, nil
}

var paymentPlanHandler = &handler{
	item: ItemPaymentPlan,
	scope: func(n *Notary, in *Transaction, item *Item) ([]string, []string, error) {
		if item.Plan == nil {
			return nil, nil, validation(ReasonMalformed, "payment plan missing")
		}

		t := item.Plan.Terms()
		return []string{t.Sender.NymID, t.Recipient.NymID}, []string{t.Sender.AccountID, t.Recipient.AccountID}, nil
	},
	run: runPaymentPlan,
}

// runPaymentPlan activates a countersigned plan submitted by its sender
// under the sender's opening number.
func runPaymentPlan(r *request, item *Item) error {
	p := item.Plan
	t := p.Terms()

	if t.NotaryID != r.n.id {
		return validation(ReasonWrongNotary, "plan addressed to %q", t.NotaryID)
	}

	if t.Sender.NymID != r.in.NymID || t.Sender.AccountID != r.in.AccountID {
		return validation(ReasonNotParty, "plans are submitted by their sender")
	}

	if t.Sender.Opening != r.in.Number {
		return validation(ReasonMalformed, "plan must be submitted under the sender opening number")
	}

	if f := p.validate(); f != nil {
		return f
	}

	merchant, err := r.n.lookupNym(t.Recipient.NymID)
	if err != nil {
		return err
	}

	customer, err := r.n.lookupNym(t.Sender.NymID)
	if err != nil {
		return err
	}

	if f := p.VerifyAgreement(r.n.verifier, merchant.Identity(), customer.Identity()); f != nil {
		return f
	}

	if !t.ValidTo.IsZero() && r.now.After(t.ValidTo) {
		return business(ReasonExpired, "plan expired at %s", t.ValidTo)
	}

	sender, err := r.account(t.Sender.AccountID)
	if err != nil {
		return err
	}

	recipient, err := r.account(t.Recipient.AccountID)
	if err != nil {
		return err
	}

	if recipient.NymID != t.Recipient.NymID {
		return validation(ReasonNotOwner, "account %s is not owned by %s", recipient.ID, t.Recipient.NymID)
	}

	if sender.UnitID != t.UnitID || recipient.UnitID != t.UnitID {
		return validation(ReasonUnitMismatch, "plan accounts must hold %s", t.UnitID)
	}

	if err := r.pledge(t.Sender.NymID, t.Sender.Closing); err != nil {
		return err
	}

	if err := r.pledge(t.Recipient.NymID, t.Recipient.Opening, t.Recipient.Closing); err != nil {
		return err
	}

	if err := r.agree(sender, 0, 0, 0); err != nil {
		return err
	}

	p.History = PlanHistory{}
	rec := &CronRecord{
		Number:    r.in.Number,
		Kind:      CronPaymentPlan,
		State:     StateConfirmed,
		Accounts:  []string{sender.ID, recipient.ID},
		Nyms:      []string{t.Sender.NymID, t.Recipient.NymID},
		CreatedAt: r.now,
		Plan:      p,
	}

	if err := r.activate(rec); err != nil {
		return err
	}

	return r.post(t.Recipient.NymID, Nymbox, &LedgerItem{
		Type:      ReceiptNotice,
		Reference: rec.Number,
		NymID:     t.Sender.NymID,
		AccountID: sender.ID,
		Note:      "payment plan activated",
	})
}

// pledge consumes agreement numbers from a party's client context.
func (r *request) pledge(nymID string, numbers ...TxNumber) error {
	c, err := r.clientContext(nymID)
	if err != nil {
		return err
	}

	for _, number := range numbers {
		if f := c.consume(number); f != nil {
			return f
		}
	}

	r.contextChanged(c)
	return nil
}

// activate stores the record as active and registers it once the session
// commits.
func (r *request) activate(rec *CronRecord) error {
	rec.State = StateActive
	if err := saveCronRecord(r.txn, rec); err != nil {
		return err
	}

	r.reply.Reference = rec.Number
	r.afterCommit(func() {
		r.n.cron.add(rec)
		if rec.Kind == CronTrade {
			r.n.book.add(rec)
		}
	})

	return nil
}
