package notary

import (
	"encoding/json"
	"time"

	g "github.com/pandodao/generic"
)

type ContractParty struct {
	Name      string   `json:"name"`
	NymID     string   `json:"nym_id"`
	AccountID string   `json:"account_id"`
	Opening   TxNumber `json:"opening"`
}

// Clause pays Amount from one party to another, first Delay after the
// contract was created and then every Period. A clause without a period
// fires once; Count bounds a periodic clause, zero meaning until expiry.
type Clause struct {
	From   string        `json:"from"`
	To     string        `json:"to"`
	Amount int64         `json:"amount"`
	Delay  time.Duration `json:"delay,omitempty"`
	Period time.Duration `json:"period,omitempty"`
	Count  int           `json:"count,omitempty"`
}

type ContractTerms struct {
	NotaryID  string          `json:"notary_id"`
	UnitID    string          `json:"unit_id"`
	Parties   []ContractParty `json:"parties"`
	Clauses   []Clause        `json:"clauses"`
	CreatedAt time.Time       `json:"created_at"`
	ValidFrom time.Time       `json:"valid_from"`
	ValidTo   time.Time       `json:"valid_to,omitempty"`
}

func (t ContractTerms) payload() []byte {
	return g.Must(json.Marshal(t))
}

func (t *ContractTerms) party(name string) (int, bool) {
	for i, p := range t.Parties {
		if p.Name == name {
			return i, true
		}
	}

	return 0, false
}

type ClauseHistory struct {
	Fired   int       `json:"fired,omitempty"`
	Failed  int       `json:"failed,omitempty"`
	NextDue time.Time `json:"next_due,omitempty"`
}

type SmartContract struct {
	Terms      ContractTerms   `json:"terms"`
	Signatures [][]byte        `json:"signatures"`
	History    []ClauseHistory `json:"history,omitempty"`
}

// SignContract adds the signature of one party. Every party signs the
// same terms.
func SignContract(s Signer, c *SmartContract) {
	if len(c.Signatures) != len(c.Terms.Parties) {
		c.Signatures = make([][]byte, len(c.Terms.Parties))
	}

	for i, p := range c.Terms.Parties {
		if p.NymID == s.NymID() {
			c.Signatures[i] = s.Sign(c.Terms.payload())
		}
	}
}

func (c *SmartContract) validate() *Failure {
	t := &c.Terms
	if len(t.Parties) < 2 || len(t.Clauses) == 0 {
		return validation(ReasonMalformed, "contract needs two parties and a clause")
	}

	if len(c.Signatures) != len(t.Parties) {
		return validation(ReasonBadSignature, "contract carries %d signatures for %d parties", len(c.Signatures), len(t.Parties))
	}

	names := map[string]bool{}
	for _, p := range t.Parties {
		if p.Name == "" || names[p.Name] || p.Opening <= 0 {
			return validation(ReasonMalformed, "party %q is malformed", p.Name)
		}

		names[p.Name] = true
	}

	for _, cl := range t.Clauses {
		if !names[cl.From] || !names[cl.To] || cl.From == cl.To {
			return validation(ReasonMalformed, "clause between %q and %q names no parties", cl.From, cl.To)
		}

		if cl.Amount <= 0 || cl.Period < 0 || cl.Count < 0 {
			return validation(ReasonInvalidAmount, "clause amounts and periods must be positive")
		}
	}

	return nil
}

func (cl Clause) exhausted(h ClauseHistory) bool {
	if cl.Period == 0 {
		return h.Fired >= 1
	}

	return cl.Count > 0 && h.Fired >= cl.Count
}

// ProcessCron fires every due clause once. pay moves a clause amount
// between the party indexes and reports whether the payer could cover it.
func (c *SmartContract) ProcessCron(now time.Time, failureLimit int, pay func(from, to int, amount int64) (bool, error)) (CronState, error) {
	t := &c.Terms
	if !t.ValidTo.IsZero() && now.After(t.ValidTo) {
		return StateExpired, nil
	}

	if now.Before(t.ValidFrom) {
		return StateActive, nil
	}

	if len(c.History) != len(t.Clauses) {
		c.History = make([]ClauseHistory, len(t.Clauses))
	}

	done := true
	for i, cl := range t.Clauses {
		h := &c.History[i]
		if cl.exhausted(*h) {
			continue
		}

		start := t.CreatedAt.Add(cl.Delay)
		if h.NextDue.IsZero() {
			h.NextDue = start
		}

		if now.Before(h.NextDue) {
			done = false
			continue
		}

		from, _ := t.party(cl.From)
		to, _ := t.party(cl.To)
		ok, err := pay(from, to, cl.Amount)
		if err != nil {
			return StateActive, err
		}

		if !ok {
			h.Failed++
			if failureLimit > 0 && h.Failed >= failureLimit {
				return StateFailedTerminal, nil
			}

			done = false
			continue
		}

		h.Fired++
		if cl.Period > 0 {
			h.NextDue = nextBoundary(start, cl.Period, now)
		}

		if !cl.exhausted(*h) {
			done = false
		}
	}

	if done {
		return StateCompleted, nil
	}

	return StateActive, nil
}

var smartContractHandler = &handler{
	item: ItemSmartContract,
	scope: func(n *Notary, in *Transaction, item *Item) ([]string, []string, error) {
		if item.Contract == nil {
			return nil, nil, validation(ReasonMalformed, "contract missing")
		}

		var nyms, accounts []string
		for _, p := range item.Contract.Terms.Parties {
			nyms = append(nyms, p.NymID)
			accounts = append(accounts, p.AccountID)
		}

		return nyms, accounts, nil
	},
	run: runSmartContract,
}

// runSmartContract activates a contract every party signed. The submitting
// party spends its opening number as the request number; the other
// parties' opening numbers are consumed alongside.
func runSmartContract(r *request, item *Item) error {
	c := item.Contract
	t := &c.Terms

	if t.NotaryID != r.n.id {
		return validation(ReasonWrongNotary, "contract addressed to %q", t.NotaryID)
	}

	if f := c.validate(); f != nil {
		return f
	}

	if !t.ValidTo.IsZero() && r.now.After(t.ValidTo) {
		return business(ReasonExpired, "contract expired at %s", t.ValidTo)
	}

	submitter := -1
	for i, p := range t.Parties {
		if p.NymID == r.in.NymID && p.AccountID == r.in.AccountID && p.Opening == r.in.Number {
			submitter = i
		}
	}

	if submitter < 0 {
		return validation(ReasonNotParty, "contracts are submitted by a party under its opening number")
	}

	var first *Account
	for i, p := range t.Parties {
		if err := r.n.verifySignature(p.NymID, t.payload(), c.Signatures[i]); err != nil {
			return err
		}

		a, err := r.account(p.AccountID)
		if err != nil {
			return err
		}

		if a.NymID != p.NymID {
			return validation(ReasonNotOwner, "account %s is not owned by %s", a.ID, p.NymID)
		}

		if a.UnitID != t.UnitID {
			return validation(ReasonUnitMismatch, "contract accounts must hold %s", t.UnitID)
		}

		if i == submitter {
			first = a
			continue
		}

		if err := r.pledge(p.NymID, p.Opening); err != nil {
			return err
		}
	}

	if err := r.agree(first, 0, 0, 0); err != nil {
		return err
	}

	rec := &CronRecord{
		Number:    r.in.Number,
		Kind:      CronSmartContract,
		State:     StateConfirmed,
		CreatedAt: r.now,
		Contract:  &SmartContract{Terms: c.Terms, Signatures: c.Signatures},
	}

	for _, p := range t.Parties {
		rec.Accounts = append(rec.Accounts, p.AccountID)
		rec.Nyms = append(rec.Nyms, p.NymID)
	}

	if err := r.activate(rec); err != nil {
		return err
	}

	for i, p := range t.Parties {
		if i == submitter {
			continue
		}

		if err := r.post(p.NymID, Nymbox, &LedgerItem{
			Type:      ReceiptNotice,
			Reference: rec.Number,
			NymID:     r.in.NymID,
			Note:      "smart contract activated",
		}); err != nil {
			return err
		}
	}

	return nil
}

func (n *Notary) runContract(s *session, rec *CronRecord, now time.Time) (CronState, error) {
	t := &rec.Contract.Terms
	return rec.Contract.ProcessCron(now, n.failureLimit, func(from, to int, amount int64) (bool, error) {
		return s.charge(rec.Number, t.Parties[from].AccountID, t.Parties[to].AccountID, amount)
	})
}
