package cmd

import (
	"fmt"
	"github.com/Gibstick/pin-archive-3/pinarchive"
	"github.com/spf13/cobra"
	"log"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatalf(
				"Environment variable %s_DATABASE_TYPE not set (must be one of: sqlite, postgres)",
				pinarchive.DefaultEnvPrefix,
			)
		}
		if cfg.Database == "" {
			log.Fatalf(
				"Environment variable %s_DATABASE not set (must be a valid "+
					"database connection string or sqlite file path)",
				pinarchive.DefaultEnvPrefix,
			)
		}

		db, err := pinarchive.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			defer func() {
				_ = sqlDB.Close()
			}()
		}

		fmt.Fprintln(
			cmd.OutOrStdout(),
			"Migration complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(migrateCmd)
}
