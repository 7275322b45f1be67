package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/weiawesome/wes-io-chat/pkg/chatclient"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

var (
	serverURL string
	userID    string
	token     string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "Talk to the chat service from a terminal",
	Long: `chatctl is a command line client for the chat service.

Quick Start:
  chatctl token --secret s3cret --user U1            # mint a development token
  chatctl history --item C1 --creator U1 --visitor U2 --user U1
  chatctl join --item C1 --creator U1 --visitor U2 --user U2`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := "warn"
		if verbose {
			level = "debug"
		}
		log.Init(log.Config{Level: level, Pretty: true})
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("CHAT_SERVER", "http://localhost:8090"), "Chat service base URL")
	rootCmd.PersistentFlags().StringVar(&userID, "user", os.Getenv("CHAT_USER"), "Your user id")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("CHAT_TOKEN"), "Access token (sent as a bearer token)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newClient() (*chatclient.Client, error) {
	if userID == "" && token == "" {
		return nil, fmt.Errorf("either --user or --token is required")
	}
	return chatclient.New(chatclient.Config{
		BaseURL: serverURL,
		UserID:  userID,
		Token:   token,
	})
}

// conversationFlags binds the participant triple flags to cmd.
func conversationFlags(cmd *cobra.Command, p *chatclient.JoinParams) {
	cmd.Flags().StringVar(&p.ContentItemID, "item", "", "Content item id")
	cmd.Flags().StringVar(&p.CreatorID, "creator", "", "Creator id")
	cmd.Flags().StringVar(&p.VisitorID, "visitor", "", "Visitor id")
	cmd.MarkFlagRequired("item")
	cmd.MarkFlagRequired("creator")
	cmd.MarkFlagRequired("visitor")
}
