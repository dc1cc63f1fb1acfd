package main

import (
	"errors"

	"github.com/spf13/cobra"

	"wa_automation/internal/infrastructure"
	"wa_automation/internal/logging"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|version|force N]",
	Short:     "Apply or inspect database schema migrations",
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: []string{"up", "down", "version", "force"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required")
		}
		return infrastructure.RunMigrate(logging.GetLogger("migrate"), cfg.DatabaseURL, args[0], args[1:])
	},
}
