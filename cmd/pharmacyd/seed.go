package main

import (
	"errors"

	"github.com/spf13/cobra"

	"pharmacy/m/internal/auth"
)

var (
	seedDrugs         string
	seedAdminEmail    string
	seedAdminPassword string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the drug catalog and create the first administrator",
	Long: `Load drugs from a CSV file (existing names are kept) and create an
administrator account when an email and password are given. Flags override
SEED_DRUGS_CSV, ADMIN_EMAIL and ADMIN_PASSWORD.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("drugs") {
			cfg.SeedDrugsCSV = seedDrugs
		}
		if seedAdminEmail != "" {
			cfg.AdminEmail = seedAdminEmail
		}
		if seedAdminPassword != "" {
			cfg.AdminPassword = seedAdminPassword
		}
		if (cfg.AdminEmail == "") != (cfg.AdminPassword == "") {
			return errors.New("admin email and password must be given together")
		}

		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		authSvc := auth.NewService(db, auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL), logger)
		return runSeed(cmd.Context(), db, authSvc, cfg.SeedDrugsCSV)
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedDrugs, "drugs", "", "drug catalog CSV (empty string skips the catalog)")
	seedCmd.Flags().StringVar(&seedAdminEmail, "admin-email", "", "administrator email")
	seedCmd.Flags().StringVar(&seedAdminPassword, "admin-password", "", "administrator password")
}
