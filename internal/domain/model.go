package domain

import "time"

// ConversationModel is the GORM model for the conversations table.
type ConversationModel struct {
	ID            string `gorm:"type:varchar(36);primaryKey"`
	ContentItemID string `gorm:"type:varchar(64);not null;uniqueIndex:idx_conversation_triple,priority:1;index:idx_conversation_content_item"`
	CreatorID     string `gorm:"type:varchar(64);not null;uniqueIndex:idx_conversation_triple,priority:2"`
	VisitorID     string `gorm:"type:varchar(64);not null;uniqueIndex:idx_conversation_triple,priority:3"`
	MessageCount  int64  `gorm:"not null;default:0"`
	LastMessageAt *time.Time
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for ConversationModel.
func (ConversationModel) TableName() string {
	return "conversations"
}

// ToDomain converts ConversationModel to domain Conversation.
func (m *ConversationModel) ToDomain() *Conversation {
	return &Conversation{
		ID:            m.ID,
		ContentItemID: m.ContentItemID,
		CreatorID:     m.CreatorID,
		VisitorID:     m.VisitorID,
		MessageCount:  m.MessageCount,
		LastMessageAt: m.LastMessageAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// MessageModel is the GORM model for the chat_messages table.
type MessageModel struct {
	ID             string    `gorm:"type:char(26);primaryKey"`
	ConversationID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_message_conversation_seq,priority:1"`
	Seq            int64     `gorm:"not null;uniqueIndex:idx_message_conversation_seq,priority:2"`
	SenderID       string    `gorm:"type:varchar(64);not null"`
	Content        string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

// TableName specifies the table name for MessageModel.
func (MessageModel) TableName() string {
	return "chat_messages"
}

// ToDomain converts MessageModel to domain Message.
func (m *MessageModel) ToDomain() Message {
	return Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Seq:            m.Seq,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}

// ParticipantModel is the GORM model for the participants table.
type ParticipantModel struct {
	ID       string `gorm:"type:varchar(64);primaryKey"`
	Username string `gorm:"type:varchar(50);not null"`
	Picture  string `gorm:"type:varchar(512)"`
	// ProfileUpdatedAt is the producer-side timestamp of the last applied
	// profile event; older events are discarded.
	ProfileUpdatedAt time.Time `gorm:"not null"`
}

// TableName specifies the table name for ParticipantModel.
func (ParticipantModel) TableName() string {
	return "participants"
}

// ToDomain converts ParticipantModel to domain Participant.
func (m *ParticipantModel) ToDomain() Participant {
	return Participant{ID: m.ID, Username: m.Username, Picture: m.Picture}
}
