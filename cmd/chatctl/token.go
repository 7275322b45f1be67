package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/weiawesome/wes-io-chat/pkg/jwt"
)

var (
	tokenSecret   string
	tokenUsername string
	tokenIssuer   string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token for local development",
	Long: `Mint an HS256 access token accepted by a chat service running with
auth.enabled and the same jwt_secret and issuer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if userID == "" {
			return fmt.Errorf("--user is required")
		}
		tokens, err := jwt.NewManager(tokenSecret, tokenTTL, tokenIssuer)
		if err != nil {
			return err
		}
		signed, exp, err := tokens.GenerateToken(userID, tokenUsername)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), signed)
		fmt.Fprintln(cmd.ErrOrStderr(), noticeStyle.Render("expires "+exp.Local().Format(time.RFC1123)))
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", envOr("JWT_SECRET", ""), "Signing secret")
	tokenCmd.Flags().StringVar(&tokenUsername, "username", "", "Username to embed")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", "wes-io-auth", "Token issuer")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
