package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pylonproxy/pylon/internal/credential"
	"github.com/pylonproxy/pylon/internal/store"
)

func newIssueCmd() *cobra.Command {
	var description string
	var priority string
	var expiresInDays int

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a new credential directly against the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigQuiet()
			if err != nil {
				return err
			}
			db, err := store.New(cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()

			p := credential.Priority(priority)
			if !p.Valid() {
				return fmt.Errorf("invalid priority %q: must be high, normal, or low", priority)
			}

			raw, err := credential.Generate()
			if err != nil {
				return err
			}

			c := &credential.Credential{
				ID:          uuid.NewString(),
				KeyHash:     credential.Hash(raw),
				KeyPrefix:   credential.DisplayPrefix(raw),
				Description: description,
				Priority:    p,
				CreatedAt:   time.Now(),
			}
			if expiresInDays > 0 {
				exp := c.CreatedAt.AddDate(0, 0, expiresInDays)
				c.ExpiresAt = &exp
			}

			if err := db.Create(context.Background(), c); err != nil {
				return err
			}

			fmt.Printf("credential id: %s\n", c.ID)
			fmt.Printf("key (store this now, it will not be shown again): %s\n", raw)
			return nil
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "human-readable label for the credential")
	cmd.Flags().StringVar(&priority, "priority", string(credential.PriorityNormal), "queue priority: high, normal, or low")
	cmd.Flags().IntVar(&expiresInDays, "expires-in-days", 0, "expire the credential after N days (0 = never)")
	return cmd
}
