// cmd/upskill/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"upskill/internal/app"
	"upskill/internal/auth"
	"upskill/internal/config"
	"upskill/internal/enrollment"

	"github.com/spf13/cobra"
)

var Version = "dev"

var envFile string

func main() {
	rootCmd := &cobra.Command{
		Use:           "upskill",
		Short:         "Course marketplace purchase and enrollment service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the environment")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(rebuildCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(auditCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStores opens the stores named by cfg.
func openStores(ctx context.Context, cfg *config.Config) (*app.Stores, error) {
	if err := cfg.ValidateStore(); err != nil {
		return nil, err
	}
	if cfg.StoreDriver == config.DriverMemory {
		log.Printf("[upskill] STORE_DRIVER=memory: nothing persists beyond this process")
	}
	return app.OpenStores(ctx, cfg)
}

// loadStores is openStores for commands that need no other settings.
func loadStores(ctx context.Context) (*app.Stores, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	return openStores(ctx, cfg)
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation sweep, projecting completed purchases the index missed",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := loadStores(cmd.Context())
			if err != nil {
				return err
			}
			defer stores.Close()

			n, err := enrollment.NewReconciler(stores.Ledger, stores.Index).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "repaired %d enrollment(s)\n", n)
			return nil
		},
	}
}

func rebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-index",
		Short: "Recompute the enrollment index from the purchase ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := loadStores(cmd.Context())
			if err != nil {
				return err
			}
			defer stores.Close()

			if err := enrollment.NewReconciler(stores.Ledger, stores.Index).Rebuild(cmd.Context()); err != nil {
				return err
			}
			records, err := stores.Index.Records(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "index rebuilt with %d enrollment(s)\n", len(records))
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var role string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Sign a development bearer token with AUTH_JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			if cfg.AuthJWTSecret == "" {
				return fmt.Errorf("AUTH_JWT_SECRET is required")
			}
			tok, err := auth.Issue(cfg.AuthJWTSecret, cfg.AuthIssuer, args[0], role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Role claim, e.g. educator")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
