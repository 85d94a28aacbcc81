package main

import (
	"errors"

	"github.com/spf13/cobra"

	"saathimed/internal/config"
	"saathimed/internal/logging"
	"saathimed/internal/patient"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.Backend != config.BackendPostgres {
		return errors.New("migrate requires STORE_BACKEND=postgres")
	}
	db, err := openPostgres(cmd.Context(), cfg.Store.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := patient.Migrate(db); err != nil {
		return err
	}
	logging.New("server").Info("migrations applied")
	return nil
}
