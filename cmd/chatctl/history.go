package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/weiawesome/wes-io-chat/pkg/chatclient"
)

var (
	historyParams chatclient.JoinParams
	historyOutput string
	chatsItem     string
	chatsOutput   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the full history of a conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		view, err := c.FetchHistory(ctx, historyParams)
		if err != nil {
			return err
		}
		if historyOutput == "text" {
			renderView(cmd.OutOrStdout(), view, userID)
			return nil
		}
		return writeStructured(cmd.OutOrStdout(), historyOutput, view)
	},
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List your conversations about a content item",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		chats, err := c.ListConversations(ctx, chatsItem)
		if err != nil {
			return err
		}
		return writeStructured(cmd.OutOrStdout(), chatsOutput, chats)
	},
}

func init() {
	conversationFlags(historyCmd, &historyParams)
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", "text", "Output format: text, json or yaml")
	rootCmd.AddCommand(historyCmd)

	chatsCmd.Flags().StringVar(&chatsItem, "item", "", "Content item id")
	chatsCmd.MarkFlagRequired("item")
	chatsCmd.Flags().StringVarP(&chatsOutput, "output", "o", "yaml", "Output format: json or yaml")
	rootCmd.AddCommand(chatsCmd)
}
