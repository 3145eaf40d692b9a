package notary

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/errgroup"
)

// Server exposes a notary over HTTP and drives its cron.
type Server struct {
	notary *Notary
	cfg    Config
}

func NewServer(n *Notary, cfg Config) Server {
	return Server{
		notary: n,
		cfg:    cfg,
	}
}

func (s *Server) Run(ctx context.Context) error {
	var g errgroup.Group

	g.Go(func() error {
		return s.notary.cron.Run(ctx, s.cfg.CronTick, s.notary.now)
	})

	g.Go(func() error {
		return runGC(ctx, s.notary.store.DB(), s.cfg.GCInterval)
	})

	return g.Wait()
}

func runGC(ctx context.Context, db *badger.DB, dur time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dur):
			_ = db.RunValueLogGC(0.7)
		}
	}
}

// Bootstrap registers the units and baskets named in the config. Existing
// ones are left untouched.
func (s *Server) Bootstrap(ctx context.Context) error {
	for _, u := range s.cfg.Units {
		if _, err := s.notary.RegisterUnit(ctx, u.ID, u.Name, u.Decimals); err != nil {
			return err
		}
	}

	for _, b := range s.cfg.Baskets {
		if unit, err := s.notary.Unit(ctx, b.ID); err == nil && unit.Basket != nil {
			continue
		}

		basket := Basket{Subs: b.Subs, MinimumTransfer: b.MinimumTransfer}
		if _, err := s.notary.IssueBasket(ctx, b.ID, b.Name, b.Decimals, basket); err != nil {
			return err
		}
	}

	return nil
}
