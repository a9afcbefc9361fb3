package cmd

import (
	"fmt"

	"github.com/frahmantamala/service-marketplace/internal/auth"
	"github.com/spf13/cobra"
)

// Identity lives outside this service; the token command mints access tokens
// for local development against the configured secret.
var tokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Mint an access token for local development",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		tokens := auth.NewJWTTokenGenerator(cfg.Security.JWTSecret, cfg.Security.AccessTokenDuration)
		token, err := tokens.GenerateAccessToken(args[0])
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}
