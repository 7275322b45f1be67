package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/weiawesome/wes-io-chat/pkg/chatclient"
)

var joinParams chatclient.JoinParams

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a conversation and chat interactively",
	Long: `Join a conversation, print its history and then relay every line typed
on stdin as a message. Type /quit or press Ctrl-D to leave.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		if err := c.Connect(ctx); err != nil {
			return err
		}
		defer c.Disconnect()

		joinCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		history, err := c.JoinRoom(joinCtx, joinParams)
		cancel()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, headerStyle.Render("joined "+history.ConversationID))
		for _, m := range history.Messages {
			fmt.Fprintln(out, renderMessage(m, userID))
		}
		fmt.Fprintln(out, noticeStyle.Render("online: "+strings.Join(history.Online, ", ")))

		go printEvents(out, c)
		return relayInput(ctx, cmd.InOrStdin(), c)
	},
}

func printEvents(w io.Writer, c *chatclient.Client) {
	for e := range c.Events() {
		if line := renderEvent(e, userID); line != "" {
			fmt.Fprintln(w, line)
		}
	}
	if err := c.Err(); err != nil {
		fmt.Fprintln(w, errorStyle.Render("disconnected: "+err.Error()))
	}
}

func relayInput(ctx context.Context, in io.Reader, c *chatclient.Client) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				return nil
			}
			err := c.SendMessage(ctx, line)
			if errors.Is(err, chatclient.ErrEmptyMessage) {
				continue
			}
			if err != nil {
				return err
			}
		}
	}
}

func init() {
	conversationFlags(joinCmd, &joinParams)
	rootCmd.AddCommand(joinCmd)
}
