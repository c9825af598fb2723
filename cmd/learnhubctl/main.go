// Command learnhubctl runs maintenance tasks against the LearnHub database.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/learnhub/learnhub/internal/config"
	"github.com/learnhub/learnhub/internal/credits"
	"github.com/learnhub/learnhub/internal/database"
	"github.com/learnhub/learnhub/internal/subscriptions"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "learnhubctl",
		Short:        "LearnHub maintenance commands",
		SilenceUsage: true,
	}
	root.AddCommand(newMigrateCmd(), newCreditsCmd(), newPlansCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
	return cfg, nil
}

// withCredits opens a pool and hands fn a credits service. Notifications and
// audit events are not emitted from the CLI.
func withCredits(ctx context.Context, fn func(*credits.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(newCreditService(pool, cfg.Credit))
}

func newCreditService(pool *pgxpool.Pool, cfg config.CreditConfig) *credits.Service {
	return credits.NewService(credits.NewRepository(pool), cfg, nil, nil, credits.ServiceOptions{})
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath)
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return database.RollbackMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath, steps)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	return cmd
}

func newCreditsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Inspect and adjust credit accounts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Expire every lapsed ledger entry now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCredits(cmd.Context(), func(svc *credits.Service) error {
				res, err := svc.ExpireSweep(cmd.Context())
				if res != nil {
					if perr := printJSON(cmd, res); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "balance USER_ID",
		Short: "Show a user's credit account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			return withCredits(cmd.Context(), func(svc *credits.Service) error {
				acct, err := svc.GetAccount(cmd.Context(), userID)
				if err != nil {
					return err
				}
				return printJSON(cmd, acct)
			})
		},
	})

	cmd.AddCommand(newGrantCmd())
	return cmd
}

func newGrantCmd() *cobra.Command {
	var (
		amount      string
		creditType  string
		expiresIn   time.Duration
		source      string
		reference   string
		description string
	)
	cmd := &cobra.Command{
		Use:   "grant USER_ID",
		Short: "Grant credits to a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}
			req := credits.GrantRequest{
				UserID:          userID,
				Amount:          amt,
				Type:            credits.CreditType(creditType),
				Source:          source,
				SourceReference: reference,
				Description:     description,
			}
			if expiresIn > 0 {
				at := time.Now().UTC().Add(expiresIn)
				req.ExpiresAt = &at
			}
			return withCredits(cmd.Context(), func(svc *credits.Service) error {
				entry, err := svc.Grant(cmd.Context(), req)
				if err != nil {
					return err
				}
				return printJSON(cmd, entry)
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "credits to grant")
	cmd.Flags().StringVar(&creditType, "type", string(credits.CreditPromotional), "credit type")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "validity window; zero never expires")
	cmd.Flags().StringVar(&source, "source", "admin_cli", "grant source")
	cmd.Flags().StringVar(&reference, "reference", "", "source reference, e.g. a subscription id")
	cmd.Flags().StringVar(&description, "description", "", "ledger description")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newPlansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List subscription plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd, subscriptions.Plans())
		},
	}
}
