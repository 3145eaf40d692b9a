package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	"github.com/fox-one/notary"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("notary exited", slog.Any("err", err))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "notary",
		Short:         "Centralized transaction notary",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newKeygenCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the notary http server and cron",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, os.Kill)
			defer stop()

			cfg, err := notary.LoadConfig(configPath)
			if err != nil {
				return err
			}

			applyFlags(cmd, cfg)
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "config file path")
	cmd.Flags().IntP("port", "p", 0, "listen port, overrides the config file")
	cmd.Flags().String("db", "", "badger data dir, overrides the config file")
	cmd.Flags().String("nats", "", "nats url, overrides the config file")
	return cmd
}

// applyFlags copies explicitly set flags over the loaded config.
func applyFlags(cmd *cobra.Command, cfg *notary.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}

	if flags.Changed("db") {
		cfg.DBPath, _ = flags.GetString("db")
	}

	if flags.Changed("nats") {
		cfg.Nats.URL, _ = flags.GetString("nats")
	}
}

func newKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a nym key seed",
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := notary.GenerateKeySigner()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "seed:   %s\n", hex.EncodeToString(signer.Seed()))
			fmt.Fprintf(cmd.OutOrStdout(), "public: %s\n", hex.EncodeToString(signer.PublicKey()))
			fmt.Fprintf(cmd.OutOrStdout(), "nym:    %s\n", signer.NymID())
			return nil
		},
	}
}

func serve(ctx context.Context, cfg *notary.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	store, err := notary.OpenStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	seed, _ := hex.DecodeString(cfg.ServerSeed)
	signer, err := notary.NewKeySigner(seed)
	if err != nil {
		return err
	}

	opts := []notary.Option{
		notary.WithFailureLimit(cfg.FailureLimit),
		notary.WithProcessInterval(cfg.ProcessInterval),
		notary.WithVoucherLifetime(cfg.VoucherLifetime),
	}

	if cfg.Nats.URL != "" {
		conn, err := notary.ConnectNats(cfg.Nats.URL, "notary-"+cfg.NotaryID)
		if err != nil {
			return err
		}
		defer conn.Close()

		opts = append(opts, notary.WithNotifier(notary.NewNatsNotifier(conn, cfg.Nats.Prefix)))
	}

	n, err := notary.New(cfg.NotaryID, store, signer, opts...)
	if err != nil {
		return err
	}

	slog.Info("notary launch", "id", n.ID(), "server_nym", n.ServerNymID(), "cron", n.Cron().Len())

	svr := notary.NewServer(n, *cfg)
	if err := svr.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	s := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: svr.Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http listen", slog.String("addr", s.Addr))
		if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		return s.Shutdown(context.Background())
	})

	g.Go(func() error {
		return svr.Run(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}
