package notary

import (
	"encoding/json"
	"sort"

	"github.com/zyedidia/generic/mapset"
)

// ClientContext tracks the transaction numbers issued to one nym.
// Tentative numbers were granted through the nymbox but not yet accepted.
type ClientContext struct {
	NymID string

	available mapset.Set[TxNumber]
	used      mapset.Set[TxNumber]
	disputed  mapset.Set[TxNumber]
	tentative mapset.Set[TxNumber]
}

func NewClientContext(nymID string) *ClientContext {
	return &ClientContext{
		NymID:     nymID,
		available: mapset.New[TxNumber](),
		used:      mapset.New[TxNumber](),
		disputed:  mapset.New[TxNumber](),
		tentative: mapset.New[TxNumber](),
	}
}

func (c *ClientContext) Available(n TxNumber) bool {
	return c.available.Has(n)
}

func (c *ClientContext) Used(n TxNumber) bool {
	return c.used.Has(n)
}

func (c *ClientContext) Disputed(n TxNumber) bool {
	return c.disputed.Has(n)
}

func (c *ClientContext) AvailableCount() int {
	return c.available.Size()
}

// verify reports why n cannot be consumed, or nil if it can.
func (c *ClientContext) verify(n TxNumber) *Failure {
	switch {
	case c.available.Has(n):
		return nil
	case c.used.Has(n):
		return validation(ReasonNumberUsed, "transaction number %d already used by %s", n, c.NymID)
	default:
		return validation(ReasonNumberUnavailable, "transaction number %d not issued to %s", n, c.NymID)
	}
}

func (c *ClientContext) consume(n TxNumber) *Failure {
	if f := c.verify(n); f != nil {
		return f
	}

	c.available.Remove(n)
	c.used.Put(n)
	return nil
}

func (c *ClientContext) issue(numbers ...TxNumber) {
	for _, n := range numbers {
		c.available.Put(n)
	}
}

func (c *ClientContext) grant(numbers ...TxNumber) {
	for _, n := range numbers {
		c.tentative.Put(n)
	}
}

// accept moves granted numbers into the available set.
func (c *ClientContext) accept(numbers ...TxNumber) *Failure {
	for _, n := range numbers {
		if !c.tentative.Has(n) {
			return integrity(ReasonForeignReceipt, "number %d was never granted to %s", n, c.NymID)
		}
	}

	for _, n := range numbers {
		c.tentative.Remove(n)
		c.available.Put(n)
	}

	return nil
}

func (c *ClientContext) dispute(n TxNumber) {
	c.disputed.Put(n)
}

func sortedNumbers(s mapset.Set[TxNumber]) []TxNumber {
	numbers := make([]TxNumber, 0, s.Size())
	s.Each(func(n TxNumber) {
		numbers = append(numbers, n)
	})

	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	return numbers
}

type clientContextJSON struct {
	NymID     string     `json:"nym_id"`
	Available []TxNumber `json:"available"`
	Used      []TxNumber `json:"used"`
	Disputed  []TxNumber `json:"disputed,omitempty"`
	Tentative []TxNumber `json:"tentative,omitempty"`
}

func (c *ClientContext) MarshalJSON() ([]byte, error) {
	return json.Marshal(clientContextJSON{
		NymID:     c.NymID,
		Available: sortedNumbers(c.available),
		Used:      sortedNumbers(c.used),
		Disputed:  sortedNumbers(c.disputed),
		Tentative: sortedNumbers(c.tentative),
	})
}

func (c *ClientContext) UnmarshalJSON(b []byte) error {
	var v clientContextJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	*c = *NewClientContext(v.NymID)
	c.available = mapset.Of(v.Available...)
	c.used = mapset.Of(v.Used...)
	c.disputed = mapset.Of(v.Disputed...)
	c.tentative = mapset.Of(v.Tentative...)
	return nil
}
