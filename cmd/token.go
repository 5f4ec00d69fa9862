package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openteams/pulse/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development identity token",
	Long:  `Signs an identity token for a user ID with the configured JWT secret. Meant for local development and smoke tests; production tokens come from the identity service.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")

		secret := os.Getenv("PULSE_JWT_SECRET")
		if secret == "" {
			secret = "super-secret-jwt-key-please-change-in-production"
			fmt.Fprintln(os.Stderr, "Warning: Using default JWT secret. Set PULSE_JWT_SECRET in production.")
		}

		token, err := auth.Sign(secret, userID, ttl)
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("user", "", "User ID to place in the subject claim")
	tokenCmd.Flags().Duration("ttl", auth.DefaultTokenTTL, "Token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
