package cmd

import (
	"github.com/bolo3547/kupemisa-cooking-sub000/config"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/database"

	"github.com/spf13/cobra"
)

var migrateRetries int

// migrateCmd brings the schema up to date without starting the server
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Creates or updates the tables for devices, telemetry, events, receipts,
shift summaries, commands, operators, prices, alert rules and API keys.
Run it from CI/CD before rolling out, or start serve without --skip-migrate.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		db, err := connectDatabase(cfg.Database, migrateRetries)
		if err != nil {
			return err
		}
		defer db.Close()

		log.WithField("database", cfg.Database.DBName).Info("Running database migrations...")
		if err := database.AutoMigrate(db); err != nil {
			return err
		}
		log.Info("Database migrations completed successfully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().IntVar(&migrateRetries, "retries", 5, "Connection attempts while the database starts")
}
