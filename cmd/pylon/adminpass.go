package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pylonproxy/pylon/internal/adminapi"
)

func newSetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-password <raw-password>",
		Short: "Hash an admin password for admin.password_hash in config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := adminapi.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}
