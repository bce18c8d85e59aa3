package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/punchamoorthee/ussdops/internal/catalog"
	"github.com/punchamoorthee/ussdops/internal/config"
	"github.com/punchamoorthee/ussdops/internal/domain"
	"github.com/punchamoorthee/ussdops/internal/ledger"
	"github.com/punchamoorthee/ussdops/internal/outbound"
	"github.com/punchamoorthee/ussdops/internal/service"
	"github.com/punchamoorthee/ussdops/internal/store"
	"github.com/punchamoorthee/ussdops/internal/ussd"
	"github.com/punchamoorthee/ussdops/internal/vas"
	"github.com/punchamoorthee/ussdops/internal/worker"
)

// env is everything a command may touch. close releases it.
type env struct {
	repo     ledger.Repository
	provider vas.Fulfiller
	logger   *slog.Logger
	batch    int
	workers  int
	close    func()
}

type opener func(ctx context.Context) (*env, error)

// openEnv connects to the configured store and provider, as the API server does.
func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var repo ledger.Repository
	closeRepo := func() {}
	if cfg.Storage == "postgres" {
		pg, err := store.NewStore(cfg.DBSource)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		repo, closeRepo = pg, pg.Close
	} else {
		repo = store.NewMemory()
	}

	client := &outbound.Client{
		Name:     "vas_fulfill",
		Policy:   outbound.SingleShot(cfg.HTTPTimeout),
		Username: cfg.VASClientID,
		Password: cfg.VASClientSecret,
	}
	return &env{
		repo:     repo,
		provider: vas.NewClient(cfg.VASBaseURL, cfg.VASCallbackURL, cat, client, client),
		logger:   logger,
		batch:    cfg.RetryBatchSize,
		workers:  cfg.RetryWorkers,
		close:    closeRepo,
	}, nil
}

func earningsCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "earnings [mobile]",
		Short: "Show derived earnings for a mobile number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mobile, err := ussd.NormalizePhone(args[0])
			if err != nil {
				return fmt.Errorf("invalid mobile number %q", args[0])
			}
			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			earnings, err := ledger.NewService(e.repo, e.provider, e.logger).Earnings(cmd.Context(), mobile)
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), earnings)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "Mobile:\t%s\n", earnings.Mobile)
			fmt.Fprintf(tw, "Earned:\t%s\n", domain.FormatAmount(earnings.TotalEarned))
			fmt.Fprintf(tw, "Withdrawn:\t%s\n", domain.FormatAmount(earnings.TotalWithdrawn))
			fmt.Fprintf(tw, "Refunded:\t%s\n", domain.FormatAmount(earnings.TotalRefunded))
			fmt.Fprintf(tw, "Available:\t%s\n", domain.FormatAmount(earnings.Available))
			fmt.Fprintf(tw, "Sales:\t%d paid, %d pending\n", earnings.PaidCount, earnings.PendingCount)
			return tw.Flush()
		},
	}
}

func statementCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "statement [mobile]",
		Short: "List the most recent ledger rows for a mobile number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mobile, err := ussd.NormalizePhone(args[0])
			if err != nil {
				return fmt.Errorf("invalid mobile number %q", args[0])
			}
			limit, _ := cmd.Flags().GetInt("limit")
			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			rows, err := ledger.NewService(e.repo, e.provider, e.logger).Statement(cmd.Context(), mobile, limit)
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				if rows == nil {
					rows = []domain.CommissionEntry{}
				}
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No ledger rows.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "REFERENCE\tPRODUCT\tAMOUNT\tCOMMISSION\tPAYMENT\tSERVICE\tRETRIES")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
					r.ClientReference, r.ProductType,
					domain.FormatAmount(r.Amount), domain.FormatAmount(r.Commission),
					r.Status, r.ServiceStatus, r.RetryCount)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntP("limit", "n", 50, "Maximum rows")
	return cmd
}

func withdrawCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "withdraw [mobile] [amount]",
		Short: "Pay out available commission to a mobile wallet",
		Long: `Withdraw pays out commission. Re-running with the same --reference
replays the original outcome instead of paying twice.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mobile, err := ussd.NormalizePhone(args[0])
			if err != nil {
				return fmt.Errorf("invalid mobile number %q", args[0])
			}
			amount, err := domain.ParseAmount(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}
			reference, _ := cmd.Flags().GetString("reference")
			if reference == "" {
				return fmt.Errorf("--reference is required")
			}

			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			w, err := ledger.NewService(e.repo, e.provider, e.logger).Withdraw(cmd.Context(), mobile, amount, reference)
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), w)
			}
			verb := "Withdrawal"
			if w.Replayed {
				verb = "Withdrawal (replayed)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s %s, available %s\n",
				verb, w.Reference, w.Status, domain.FormatAmount(w.Amount), domain.FormatAmount(w.Earnings.Available))
			return nil
		},
	}
	cmd.Flags().StringP("reference", "r", "", "Idempotency reference for this withdrawal")
	return cmd
}

func retryScanCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-scan",
		Short: "Run one pass of the fulfillment retry scanner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			pool := worker.NewPool(context.Background(), e.batch, e.logger)
			pool.Start(max(e.workers, 1))
			defer pool.Shutdown()

			n, err := service.NewRetryScanner(e.repo, e.provider, pool, e.batch, 0, e.logger).ScanOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Retried %d rows.\n", n)
			return nil
		},
	}
}

func asJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
