package notary

import (
	"fmt"
	"sync"
	"time"
)

// Market trades an asset unit against a currency unit. Prices are quoted
// in currency per Scale units of the asset.
type Market struct {
	AssetUnit    string `json:"asset_unit"`
	CurrencyUnit string `json:"currency_unit"`
	Scale        int64  `json:"scale"`
}

func (m Market) key() string {
	return fmt.Sprintf("%s/%s/%d", m.AssetUnit, m.CurrencyUnit, m.Scale)
}

type Offer struct {
	Market            Market    `json:"market"`
	Selling           bool      `json:"selling"`
	Price             int64     `json:"price"`
	Total             int64     `json:"total"`
	MinimumIncrement  int64     `json:"minimum_increment"`
	AssetAccountID    string    `json:"asset_account_id"`
	CurrencyAccountID string    `json:"currency_account_id"`
	ValidTo           time.Time `json:"valid_to,omitempty"`
}

// Trade is a standing offer being filled over time.
type Trade struct {
	NymID     string    `json:"nym_id"`
	Offer     Offer     `json:"offer"`
	Filled    int64     `json:"filled"`
	Trades    int       `json:"trades"`
	CreatedAt time.Time `json:"created_at"`
}

func (t *Trade) Remaining() int64 {
	return t.Offer.Total - t.Filled
}

type bookOffer struct {
	number   TxNumber
	nymID    string
	market   string
	selling  bool
	price    int64
	accounts []string
}

// marketBook indexes the active trades by market for matching.
type marketBook struct {
	mu     sync.Mutex
	offers map[TxNumber]*bookOffer
}

func newMarketBook() *marketBook {
	return &marketBook{offers: map[TxNumber]*bookOffer{}}
}

func (b *marketBook) add(rec *CronRecord) {
	if rec.Trade == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	o := rec.Trade.Offer
	b.offers[rec.Number] = &bookOffer{
		number:   rec.Number,
		nymID:    rec.Trade.NymID,
		market:   o.Market.key(),
		selling:  o.Selling,
		price:    o.Price,
		accounts: rec.Accounts,
	}
}

func (b *marketBook) remove(number TxNumber) {
	b.mu.Lock()
	delete(b.offers, number)
	b.mu.Unlock()
}

// match finds the best crossing offer on the other side of the market:
// the cheapest seller for a buyer, the highest buyer for a seller, older
// offers first on equal prices.
func (b *marketBook) match(number TxNumber) (bookOffer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	self, ok := b.offers[number]
	if !ok {
		return bookOffer{}, false
	}

	var best *bookOffer
	for _, o := range b.offers {
		if o.market != self.market || o.selling == self.selling || o.nymID == self.nymID {
			continue
		}

		if self.selling && o.price < self.price || !self.selling && o.price > self.price {
			continue
		}

		if best == nil || better(o, best, self.selling) {
			best = o
		}
	}

	if best == nil {
		return bookOffer{}, false
	}

	return *best, true
}

func better(a, b *bookOffer, selling bool) bool {
	if a.price != b.price {
		if selling {
			return a.price > b.price
		}

		return a.price < b.price
	}

	return a.number < b.number
}

var marketOfferHandler = &handler{
	item: ItemMarketOffer,
	scope: func(n *Notary, in *Transaction, item *Item) ([]string, []string, error) {
		if item.Offer == nil {
			return nil, nil, validation(ReasonMalformed, "offer missing")
		}

		return nil, []string{item.Offer.AssetAccountID, item.Offer.CurrencyAccountID}, nil
	},
	run: runMarketOffer,
}

// runMarketOffer places a standing offer. Funds stay in the accounts until
// a match settles.
func runMarketOffer(r *request, item *Item) error {
	o := *item.Offer
	m := o.Market

	if m.Scale <= 0 || o.Price <= 0 || o.Total <= 0 {
		return validation(ReasonInvalidAmount, "scale, price and total must be positive")
	}

	if o.Total%m.Scale != 0 {
		return validation(ReasonInvalidAmount, "total must be a multiple of the market scale")
	}

	if _, ok := mulAmount(o.Total/m.Scale, o.Price); !ok {
		return validation(ReasonInvalidAmount, "price %d for %d units overflows", o.Price, o.Total)
	}

	if o.MinimumIncrement == 0 {
		o.MinimumIncrement = m.Scale
	}

	if o.MinimumIncrement < m.Scale || o.MinimumIncrement > o.Total {
		return validation(ReasonInvalidAmount, "minimum increment out of range")
	}

	if o.AssetAccountID != r.in.AccountID {
		return validation(ReasonMalformed, "offers are placed from the asset account")
	}

	if !o.ValidTo.IsZero() && r.now.After(o.ValidTo) {
		return business(ReasonExpired, "offer expired at %s", o.ValidTo)
	}

	asset, err := r.account(o.AssetAccountID)
	if err != nil {
		return err
	}

	currency, err := r.account(o.CurrencyAccountID)
	if err != nil {
		return err
	}

	if currency.NymID != r.in.NymID {
		return validation(ReasonNotOwner, "account %s is not owned by %s", currency.ID, r.in.NymID)
	}

	if asset.UnitID != m.AssetUnit || currency.UnitID != m.CurrencyUnit {
		return validation(ReasonUnitMismatch, "accounts do not match market %s", m.key())
	}

	if err := r.agree(asset, 0, 0, 0); err != nil {
		return err
	}

	return r.activate(&CronRecord{
		Number:    r.in.Number,
		Kind:      CronTrade,
		State:     StateConfirmed,
		Accounts:  []string{asset.ID, currency.ID},
		Nyms:      []string{r.in.NymID},
		CreatedAt: r.now,
		Trade: &Trade{
			NymID:     r.in.NymID,
			Offer:     o,
			CreatedAt: r.now,
		},
	})
}

// runTrade expires the trade or settles it against counter, the crossing
// offer picked from the book before locking.
func (n *Notary) runTrade(s *session, rec *CronRecord, counter TxNumber, now time.Time) (CronState, error) {
	t := rec.Trade
	if !t.Offer.ValidTo.IsZero() && now.After(t.Offer.ValidTo) {
		return StateExpired, nil
	}

	if counter == 0 {
		return StateActive, nil
	}

	other, err := findCronRecord(s.txn, counter)
	if err != nil || other.State != StateActive || other.Trade == nil {
		return StateActive, nil
	}

	o := other.Trade
	if !o.Offer.ValidTo.IsZero() && now.After(o.Offer.ValidTo) {
		return StateActive, s.settle(other, StateExpired)
	}

	state, counterState, err := s.cross(rec, other)
	if err != nil {
		return StateActive, err
	}

	if err := s.settle(other, counterState); err != nil {
		return StateActive, err
	}

	return state, nil
}

// cross executes one fill between two trades at the price of the older
// one and returns the new states of both.
func (s *session) cross(rec, other *CronRecord) (CronState, CronState, error) {
	t, o := rec.Trade, other.Trade
	scale := t.Offer.Market.Scale

	seller, buyer := rec, other
	if !t.Offer.Selling {
		seller, buyer = other, rec
	}

	if buyer.Trade.Offer.Price < seller.Trade.Offer.Price {
		return StateActive, StateActive, nil
	}

	qty := min(t.Remaining(), o.Remaining())
	qty -= qty % scale
	if qty <= 0 || qty < t.Offer.MinimumIncrement || qty < o.Offer.MinimumIncrement {
		return StateActive, StateActive, nil
	}

	price := o.Offer.Price
	if rec.Number < other.Number {
		price = t.Offer.Price
	}

	cost, ok := mulAmount(qty/scale, price)
	if !ok {
		return StateActive, StateActive, validation(ReasonInvalidAmount, "fill of %d at %d overflows", qty, price)
	}

	sellerAsset, err := s.account(seller.Trade.Offer.AssetAccountID)
	if err != nil {
		return StateActive, StateActive, err
	}

	sellerCurrency, err := s.account(seller.Trade.Offer.CurrencyAccountID)
	if err != nil {
		return StateActive, StateActive, err
	}

	buyerAsset, err := s.account(buyer.Trade.Offer.AssetAccountID)
	if err != nil {
		return StateActive, StateActive, err
	}

	buyerCurrency, err := s.account(buyer.Trade.Offer.CurrencyAccountID)
	if err != nil {
		return StateActive, StateActive, err
	}

	states := map[TxNumber]CronState{rec.Number: StateActive, other.Number: StateActive}
	if sellerAsset.Balance < qty {
		states[seller.Number] = StateFailedTerminal
	}

	if buyerCurrency.Balance < cost {
		states[buyer.Number] = StateFailedTerminal
	}

	if states[rec.Number] != StateActive || states[other.Number] != StateActive {
		return states[rec.Number], states[other.Number], nil
	}

	if err := s.move(sellerAsset, buyerAsset, qty); err != nil {
		return StateActive, StateActive, err
	}

	if err := s.move(buyerCurrency, sellerCurrency, cost); err != nil {
		return StateActive, StateActive, err
	}

	fills := []struct {
		account *Account
		amount  int64
	}{
		{sellerAsset, qty},
		{sellerCurrency, cost},
		{buyerAsset, qty},
		{buyerCurrency, cost},
	}

	for _, fill := range fills {
		if err := s.post(fill.account.ID, Inbox, &LedgerItem{
			Type:      ReceiptMarket,
			Reference: rec.Number,
			AccountID: fill.account.ID,
			NymID:     fill.account.NymID,
			Amount:    fill.amount,
			Note:      fmt.Sprintf("%d at %d", qty, o.Offer.Price),
		}); err != nil {
			return StateActive, StateActive, err
		}
	}

	for _, x := range []*CronRecord{rec, other} {
		x.Trade.Filled += qty
		x.Trade.Trades++
		if x.Trade.Remaining() < x.Trade.Offer.MinimumIncrement {
			states[x.Number] = StateCompleted
		}
	}

	return states[rec.Number], states[other.Number], nil
}
