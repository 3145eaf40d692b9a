package notary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// LedgerSnapshot is the state of an account after a committed change.
type LedgerSnapshot struct {
	AccountID   string    `json:"account_id"`
	UnitID      string    `json:"unit_id"`
	Balance     int64     `json:"balance"`
	InboxCount  int       `json:"inbox_count"`
	OutboxCount int       `json:"outbox_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Notifier pushes snapshots to subscribers. Delivery is best effort and
// never affects the notarization that produced the snapshot.
type Notifier interface {
	Notify(ctx context.Context, accountID string, snapshot LedgerSnapshot) error
}

type logNotifier struct{}

func (logNotifier) Notify(_ context.Context, accountID string, snapshot LedgerSnapshot) error {
	slog.Debug("ledger changed", "account", accountID, "balance", snapshot.Balance, "inbox", snapshot.InboxCount, "outbox", snapshot.OutboxCount)
	return nil
}

// NatsNotifier publishes snapshots as JSON to <prefix>.<account id>.
type NatsNotifier struct {
	conn   *nats.Conn
	prefix string
}

func NewNatsNotifier(conn *nats.Conn, prefix string) *NatsNotifier {
	return &NatsNotifier{conn: conn, prefix: prefix}
}

func ConnectNats(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)

	if err != nil {
		return nil, fmt.Errorf("connect nats failed: %w", err)
	}

	return conn, nil
}

func (n *NatsNotifier) Notify(_ context.Context, accountID string, snapshot LedgerSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	return n.conn.Publish(n.prefix+"."+accountID, payload)
}

func (n *Notary) notify(ctx context.Context, snapshots []LedgerSnapshot) {
	for _, snapshot := range snapshots {
		if err := n.notifier.Notify(ctx, snapshot.AccountID, snapshot); err != nil {
			slog.Warn("notify failed", slog.Any("err", err), "account", snapshot.AccountID)
		}
	}
}
