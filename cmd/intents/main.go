// Command intents inspects and prunes stored purchase intents.
package main

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"shop-backend/internal/config"
	"shop-backend/internal/db"
	"shop-backend/internal/domain"
	intentrepo "shop-backend/internal/repository/intent"
)

type intentStore interface {
	FindByBuyer(ctx context.Context, buyerID string, limit int) iter.Seq2[domain.PurchaseIntent, error]
	DeletePendingBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

func main() {
	root := newRootCmd(func(ctx context.Context) (intentStore, func(), error) {
		cfg := config.FromEnv()
		pool, err := db.Connect(ctx, cfg.DBConnString)
		if err != nil {
			return nil, nil, fmt.Errorf("connect db: %w", err)
		}
		return intentrepo.NewPostgres(pool, nil), pool.Close, nil
	})
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type opener func(ctx context.Context) (intentStore, func(), error)

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:          "intents",
		Short:        "Inspect and prune purchase intents",
		SilenceUsage: true,
	}
	root.AddCommand(newListCmd(open), newSweepCmd(open, time.Now))
	return root
}

func newListCmd(open opener) *cobra.Command {
	var (
		buyer string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a buyer's most recent intents",
		RunE: func(cmd *cobra.Command, args []string) error {
			if buyer == "" {
				return fmt.Errorf("--buyer is required")
			}
			store, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return printIntents(cmd.OutOrStdout(), store.FindByBuyer(cmd.Context(), buyer, limit))
		},
	}
	cmd.Flags().StringVar(&buyer, "buyer", "", "Buyer id")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum intents to show")
	return cmd
}

func newSweepCmd(open opener, now func() time.Time) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete pending intents older than a cutoff",
		Long: `Delete pending intents created before now minus --older-than.
Consumed intents are kept, since their orders reference them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			store, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			cutoff := now().Add(-olderThan)
			n, err := store.DeletePendingBefore(cmd.Context(), cutoff)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d pending intents created before %s\n", n, cutoff.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "Age of pending intents to delete")
	return cmd
}

func printIntents(out io.Writer, seq iter.Seq2[domain.PurchaseIntent, error]) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOKEN\tPROVIDER\tSTATUS\tTOTAL\tITEMS\tCREATED")
	for in, err := range seq {
		if err != nil {
			return fmt.Errorf("list intents: %w", err)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			in.Token, in.Provider, in.Status, in.Total, len(in.LineItems), in.CreatedAt.UTC().Format(time.RFC3339))
	}
	return w.Flush()
}
