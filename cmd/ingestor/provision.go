package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

func newProvisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Create the destination namespace, table and checkpoint store if missing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.provisioner.EnsureDestination(ctx); err != nil {
				return err
			}
			_, storeProvisioner := a.checkpoints()
			if err := storeProvisioner.EnsureDestination(ctx); err != nil {
				return err
			}

			cols, err := a.provisioner.Describe(ctx)
			if err != nil {
				return err
			}
			log.Printf("provision: %s ready with %d columns", a.dest, len(cols))
			for _, c := range cols {
				null := "NOT NULL"
				if c.Nullable {
					null = "NULL"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", c.Name, c.DataType, null)
			}
			return nil
		},
	}
}
