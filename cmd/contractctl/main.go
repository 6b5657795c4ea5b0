package main

// Operator commands:
//   go run ./cmd/contractctl migrate up
//   go run ./cmd/contractctl accounts plan --email a@b.vn --plan PRO --max-uploads 100 --days 30

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"contract-backend/internal/accounts"
	"contract-backend/internal/shared/config"
	"contract-backend/internal/shared/storage/db"
)

var jsonOutput bool

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "contractctl",
		Short:         "Operator tooling for the contract analysis backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	rootCmd.AddCommand(newMigrateCmd(), newAccountsCmd(openAccounts))
	return rootCmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status|version]",
		Short:     "Run the embedded database migrations",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down", "status", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) == 1 {
				command = args[0]
			}
			database, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer database.Close()
			return db.Migrate(cmd.Context(), database, command)
		},
	}
}

// accountStore is the slice of accounts.Service the CLI drives.
type accountStore interface {
	GetByEmail(ctx context.Context, email string) (accounts.Account, error)
	ChangePlan(ctx context.Context, email, plan string, maxUploads, days int) (accounts.Account, error)
}

type openFunc func(ctx context.Context) (accountStore, func() error, error)

func openAccounts(ctx context.Context) (accountStore, func() error, error) {
	database, err := connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	svc := accounts.NewService(&accounts.PGRepo{DB: database}, nil, accounts.DefaultTrial())
	return svc, database.Close, nil
}

func newAccountsCmd(open openFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect and change account plans",
	}

	var email string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print an account's quota snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			account, err := store.GetByEmail(cmd.Context(), email)
			if err != nil {
				return fmt.Errorf("lookup %s: %w", email, err)
			}
			return printAccount(cmd.OutOrStdout(), account)
		},
	}
	show.Flags().StringVar(&email, "email", "", "account email")
	_ = show.MarkFlagRequired("email")

	var (
		planEmail  string
		plan       string
		maxUploads int
		days       int
	)
	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Move an account onto a plan starting now",
		Long:  "Sets the plan type, upload ceiling and validity window. The consumed upload count is kept.",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			account, err := store.ChangePlan(cmd.Context(), planEmail, plan, maxUploads, days)
			if err != nil {
				return err
			}
			return printAccount(cmd.OutOrStdout(), account)
		},
	}
	planCmd.Flags().StringVar(&planEmail, "email", "", "account email")
	planCmd.Flags().StringVar(&plan, "plan", "", "plan type, e.g. PRO")
	planCmd.Flags().IntVar(&maxUploads, "max-uploads", 0, "upload ceiling for the window")
	planCmd.Flags().IntVar(&days, "days", 30, "window length in days")
	_ = planCmd.MarkFlagRequired("email")
	_ = planCmd.MarkFlagRequired("plan")
	_ = planCmd.MarkFlagRequired("max-uploads")

	cmd.AddCommand(show, planCmd)
	return cmd
}

func connect(ctx context.Context) (*sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultCLIOptions()))
}

type accountView struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	PlanType       string `json:"planType"`
	MaxUploads     int    `json:"maxUploads"`
	CurrentUploads int    `json:"currentUploads"`
	Remaining      int    `json:"remaining"`
	StartDate      string `json:"startDate"`
	EndDate        string `json:"endDate"`
}

func printAccount(w io.Writer, a accounts.Account) error {
	sub := a.Subscription
	view := accountView{
		ID:             a.ID,
		Email:          a.Email,
		PlanType:       sub.PlanType,
		MaxUploads:     sub.MaxUploads,
		CurrentUploads: sub.CurrentUploads,
		Remaining:      sub.Remaining(),
		StartDate:      sub.StartDate.Format("2006-01-02"),
		EndDate:        sub.EndDate.Format("2006-01-02"),
	}
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}
	_, err := fmt.Fprintf(w, "%s (%s)\n  plan:    %s\n  uploads: %d/%d (%d remaining)\n  window:  %s .. %s\n",
		view.Email, view.ID, view.PlanType, view.CurrentUploads, view.MaxUploads, view.Remaining, view.StartDate, view.EndDate)
	return err
}
