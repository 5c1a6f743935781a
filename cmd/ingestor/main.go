// ingestor consumes user records from Kafka, validates them and upserts them into Postgres.
// Configure with env or .env (see internal/config); flags override env. Exit status is 1 on failure.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"user-stream-ingestor/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ingestor:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ingestor",
		Short:         "Stream user records from Kafka into a keyed Postgres table",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(root.PersistentFlags())
	root.AddCommand(newRunCmd(), newProvisionCmd(), newInspectCmd())
	return root
}

// loadConfig reads env, .env and the flags of cmd (including inherited ones).
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadWithFlags(cmd.Flags())
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
