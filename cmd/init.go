package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openteams/pulse/internal/db"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create and migrate the coordinator database",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Flags().GetString("db")

		if _, err := os.Stat(dbPath); err == nil {
			fmt.Printf("Database already exists at %s, running migrations\n", dbPath)
		}

		database, err := db.New(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()

		if err := database.RunMigrations(); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		fmt.Printf("Database ready at %s\n", dbPath)
		return nil
	},
}

func init() {
	initCmd.Flags().String("db", "pulse.db", "Path to the SQLite database")
	rootCmd.AddCommand(initCmd)
}
