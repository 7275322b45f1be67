package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/weiawesome/wes-io-chat/pkg/chatclient"
	"github.com/weiawesome/wes-io-chat/pkg/protocol"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			MarginBottom(1)

	selfStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	peerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Bold(true)

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

// writeStructured prints v as json or yaml using the wire field names.
func writeStructured(w io.Writer, format string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	switch strings.ToLower(format) {
	case "json":
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml", "yml":
		var generic interface{}
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		out, err := yaml.Marshal(generic)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func renderMessage(m protocol.Message, self string) string {
	style := peerStyle
	if m.SenderID == self {
		style = selfStyle
	}
	return fmt.Sprintf("%s %s %s",
		timestampStyle.Render(m.CreatedAt.Local().Format(time.Kitchen)),
		style.Render(m.SenderID+":"),
		m.Content,
	)
}

// renderEvent formats one inbound event; Pong renders as nothing.
func renderEvent(e chatclient.Event, self string) string {
	switch v := e.(type) {
	case protocol.MessageReceived:
		return renderMessage(v.Message, self)
	case protocol.PresenceChanged:
		state := "left"
		if v.Online {
			state = "joined"
		}
		return noticeStyle.Render(fmt.Sprintf("* %s %s", v.ParticipantID, state))
	case protocol.Error:
		return errorStyle.Render(fmt.Sprintf("! %s: %s", v.Code, v.Message))
	}
	return ""
}

func renderView(w io.Writer, view *chatclient.ConversationView, self string) {
	title := fmt.Sprintf("%s with %s about %s",
		displayName(view.Creator), displayName(view.Visitor), view.Conversation.ContentItemID)
	fmt.Fprintln(w, headerStyle.Render(title))
	if len(view.Messages) == 0 {
		fmt.Fprintln(w, noticeStyle.Render("no messages yet"))
	}
	for _, m := range view.Messages {
		fmt.Fprintln(w, renderMessage(m, self))
	}
}

func displayName(p chatclient.Participant) string {
	if p.Username != "" {
		return p.Username
	}
	return p.ID
}
