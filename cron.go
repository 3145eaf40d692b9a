package notary

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// planProcessInterval is the minimum time between two runs of one cron item.
const planProcessInterval = 10 * time.Second

type CronKind string

const (
	CronPaymentPlan   CronKind = "paymentPlan"
	CronTrade         CronKind = "trade"
	CronSmartContract CronKind = "smartContract"
)

type CronState string

const (
	StateConfirmed      CronState = "confirmed"
	StateActive         CronState = "active"
	StateCompleted      CronState = "completed"
	StateCancelled      CronState = "cancelled"
	StateExpired        CronState = "expired"
	StateFailedTerminal CronState = "failedTerminal"
)

func (s CronState) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateExpired, StateFailedTerminal:
		return true
	default:
		return false
	}
}

// CronRecord is the stored envelope of a standing agreement. Exactly one of
// Plan, Trade and Contract is set, matching Kind.
type CronRecord struct {
	Number        TxNumber  `json:"number"`
	Kind          CronKind  `json:"kind"`
	State         CronState `json:"state"`
	Accounts      []string  `json:"accounts"`
	Nyms          []string  `json:"nyms"`
	CreatedAt     time.Time `json:"created_at"`
	LastProcessed time.Time `json:"last_processed,omitempty"`
	ClosedAt      time.Time `json:"closed_at,omitempty"`

	Plan     *PaymentPlan   `json:"plan,omitempty"`
	Trade    *Trade         `json:"trade,omitempty"`
	Contract *SmartContract `json:"contract,omitempty"`
}

type cronEntry struct {
	number   TxNumber
	kind     CronKind
	accounts []string
	last     time.Time
}

// Cron is the registry of active cron items. The records themselves live
// in the store; the registry only decides what is due.
type Cron struct {
	mu       sync.Mutex
	entries  map[TxNumber]*cronEntry
	interval time.Duration
	process  func(ctx context.Context, number TxNumber, now time.Time) error
}

func newCron(interval time.Duration) *Cron {
	return &Cron{
		entries:  map[TxNumber]*cronEntry{},
		interval: interval,
	}
}

func (c *Cron) add(rec *CronRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[rec.Number] = &cronEntry{
		number:   rec.Number,
		kind:     rec.Kind,
		accounts: rec.Accounts,
		last:     rec.LastProcessed,
	}
}

func (c *Cron) remove(number TxNumber) {
	c.mu.Lock()
	delete(c.entries, number)
	c.mu.Unlock()
}

func (c *Cron) entry(number TxNumber) (cronEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[number]
	if !ok {
		return cronEntry{}, false
	}

	return *e, true
}

func (c *Cron) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

func (c *Cron) Has(number TxNumber) bool {
	_, ok := c.entry(number)
	return ok
}

func (c *Cron) due(now time.Time) []TxNumber {
	c.mu.Lock()
	defer c.mu.Unlock()

	var numbers []TxNumber
	for number, e := range c.entries {
		if e.last.IsZero() || now.Sub(e.last) >= c.interval {
			numbers = append(numbers, number)
		}
	}

	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	return numbers
}

func (c *Cron) processed(number TxNumber, now time.Time) {
	c.mu.Lock()
	if e, ok := c.entries[number]; ok {
		e.last = now
	}
	c.mu.Unlock()
}

// Tick runs every due item once, in ascending number order, and reports
// how many were processed.
func (c *Cron) Tick(ctx context.Context, now time.Time) int {
	var count int
	for _, number := range c.due(now) {
		if ctx.Err() != nil {
			break
		}

		if err := c.process(ctx, number, now); err != nil {
			slog.Warn("process cron item failed", slog.Any("err", err), "number", number)
		}

		c.processed(number, now)
		count++
	}

	return count
}

// Run drives Tick until ctx is done.
func (c *Cron) Run(ctx context.Context, tick time.Duration, now func() time.Time) error {
	for {
		c.Tick(ctx, now())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(tick):
		}
	}
}

func (n *Notary) restoreCron() error {
	return n.store.View(func(txn *badger.Txn) error {
		records, err := listCronRecords(txn, true)
		if err != nil {
			return err
		}

		for _, rec := range records {
			n.cron.add(rec)
			if rec.Kind == CronTrade {
				n.book.add(rec)
			}
		}

		if len(records) > 0 {
			slog.Info("cron restored", "items", len(records))
		}

		return nil
	})
}
