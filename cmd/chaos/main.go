// cmd/chaos/main.go
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"upskill/internal/app"
	"upskill/internal/chaos"
	"upskill/internal/config"

	"github.com/spf13/cobra"
)

var errHypothesisViolated = errors.New("one or more hypotheses were violated")

func main() {
	var (
		envFile  string
		sample   time.Duration
		cooldown time.Duration
		outage   time.Duration
	)

	cmd := &cobra.Command{
		Use:          "chaos",
		Short:        "Run the purchase pipeline game day against the configured stores",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			if err := cfg.ValidateStore(); err != nil {
				return err
			}
			stores, err := app.OpenStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer stores.Close()

			harness := chaos.NewHarness(stores.Ledger, stores.Index, stores.Courses)
			engine := chaos.NewEngine(cmd.OutOrStdout(), sample, cooldown)
			engine.Register(harness.Experiments(outage)...)

			held, err := engine.ExecuteGameDay(ctx, chaos.GameDay{
				Name:      "Purchase pipeline game day",
				Date:      time.Now(),
				Scenarios: engine.Experiments(),
			})
			if err != nil {
				return err
			}
			if !held {
				return errHypothesisViolated
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the environment")
	cmd.Flags().DurationVar(&sample, "sample", time.Second, "Metric sampling interval")
	cmd.Flags().DurationVar(&cooldown, "cooldown", 5*time.Second, "Pause between experiments")
	cmd.Flags().DurationVar(&outage, "outage", 3*time.Second, "How long the enrollment index stays down")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
