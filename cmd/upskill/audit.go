// cmd/upskill/audit.go
package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"
)

// auditCmd prints the append-only event log as JSON lines, oldest first.
func auditCmd() *cobra.Command {
	var (
		after int64
		batch int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Stream ledger and catalog events from the event store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if batch <= 0 {
				return errors.New("--batch must be positive")
			}
			stores, err := loadStores(cmd.Context())
			if err != nil {
				return err
			}
			defer stores.Close()
			if stores.Events == nil {
				return errors.New("audit needs STORE_DRIVER=postgres")
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			cursor := after
			for {
				events, err := stores.Events.StreamEvents(cmd.Context(), cursor, batch)
				if err != nil {
					return err
				}
				for _, e := range events {
					if err := enc.Encode(e); err != nil {
						return err
					}
					cursor = e.ID
				}
				if len(events) < batch {
					return nil
				}
			}
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "Only events with an id greater than this")
	cmd.Flags().IntVar(&batch, "batch", 500, "Events fetched per query")
	return cmd
}
