// Command billingctl is the operator tool for signups whose billing was set up
// but whose subscriber row could not be written.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meterly/backend/internal/application/subscription"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/infrastructure/config"
	"github.com/meterly/backend/internal/infrastructure/logger"
	"github.com/meterly/backend/internal/infrastructure/persistence"
)

const defaultLimit = 50

type app struct {
	log     *zap.Logger
	db      *persistence.Database
	service *subscription.ReconciliationService
}

func (a *app) open() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	log, err := logger.New(&logger.Config{Level: cfg.Log.Level, Format: "console", Output: "stderr"})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	db, err := persistence.NewDatabase(&cfg.Database, persistence.Options{
		Logger:   log,
		LogLevel: logger.MapGormLogLevel("error"),
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	a.log = log
	a.db = db
	a.service = subscription.NewReconciliationService(
		persistence.NewGormReconciliationRepository(db.DB),
		persistence.NewGormSubscriberRepository(db.DB),
		shared.SystemClock,
	)
	return nil
}

func (a *app) close() {
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	root := &cobra.Command{
		Use:           "billingctl",
		Short:         "Inspect and repair incomplete signups",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Work the reconciliation queue",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open()
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			a.close()
		},
	}
	reconcile.AddCommand(listCmd(a), repairCmd(a))
	root.AddCommand(reconcile)

	if err := root.ExecuteContext(ctx); err != nil {
		a.close()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func listCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List open reconciliation cases, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cases, err := a.service.ListOpen(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEMAIL\tPLAN\tCUSTOMER\tSUBSCRIPTION\tOPENED\tREASON")
			for _, c := range cases {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					c.ID, c.Email, c.Plan, c.BillingCustomerRef, c.BillingSubscriptionRef,
					c.CreatedAt.Format(time.RFC3339), c.Reason)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", defaultLimit, "maximum cases to show")
	return cmd
}

func repairCmd(a *app) *cobra.Command {
	var (
		all   bool
		limit int
	)
	cmd := &cobra.Command{
		Use:   "repair [case-id]",
		Short: "Write the missing subscriber row and resolve the case",
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return fmt.Errorf("--all takes no case id")
			}
			if !all && len(args) != 1 {
				return fmt.Errorf("a case id or --all is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				report, err := a.service.RepairAll(cmd.Context(), limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "repaired %d, failed %d\n", report.Repaired, report.Failed)
				if report.Failed > 0 {
					return fmt.Errorf("%d cases could not be repaired", report.Failed)
				}
				return nil
			}

			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid case id %q", args[0])
			}
			c, err := a.service.Repair(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resolved %s for subscriber %s\n", c.ID, c.SubscriberID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "repair every open case")
	cmd.Flags().IntVar(&limit, "limit", defaultLimit, "maximum cases to repair with --all")
	return cmd
}
