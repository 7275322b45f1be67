package room

import (
	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/protocol"
)

func toWire(m *domain.Message) protocol.Message {
	return protocol.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Seq:            m.Seq,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}

func toWireAll(msgs []domain.Message) []protocol.Message {
	out := make([]protocol.Message, len(msgs))
	for i := range msgs {
		out[i] = toWire(&msgs[i])
	}
	return out
}
