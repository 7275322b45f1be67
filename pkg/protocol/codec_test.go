package protocol

import (
	"errors"
	"testing"
	"time"
)

func TestDecodeClient(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    ClientFrame
		wantErr error
	}{
		{
			name: "join room",
			raw:  `{"type":"join_room","data":{"content_item_id":"E","creator_id":"C1","visitor_id":"U1","requester_id":"U1"}}`,
			want: JoinRoom{ContentItemID: "E", CreatorID: "C1", VisitorID: "U1", RequesterID: "U1"},
		},
		{
			name: "send message",
			raw:  `{"type":"send_message","data":{"content":"hi"}}`,
			want: SendMessage{Content: "hi"},
		},
		{
			name: "leave without data",
			raw:  `{"type":"leave_room"}`,
			want: LeaveRoom{},
		},
		{
			name: "ping with null data",
			raw:  `{"type":"ping","data":null}`,
			want: Ping{},
		},
		{
			name:    "unknown type",
			raw:     `{"type":"typing","data":{}}`,
			wantErr: ErrUnknownFrameType,
		},
		{
			name:    "server frame from client",
			raw:     `{"type":"history","data":{}}`,
			wantErr: ErrUnknownFrameType,
		},
		{
			name:    "unknown field",
			raw:     `{"type":"send_message","data":{"content":"hi","room":"x"}}`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "unknown envelope field",
			raw:     `{"type":"ping","extra":1}`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "missing type",
			raw:     `{"data":{"content":"hi"}}`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "not json",
			raw:     `hello`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "wrong field type",
			raw:     `{"type":"send_message","data":{"content":42}}`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "trailing data",
			raw:     `{"type":"ping"}{"type":"ping"}`,
			wantErr: ErrMalformedFrame,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeClient([]byte(tt.raw))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("DecodeClient() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeClient() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DecodeClient() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestEncodeDecodeServer(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := Message{ID: "01HX", ConversationID: "conv", Seq: 1, SenderID: "U1", Content: "hi", CreatedAt: at}

	raw, err := Encode(History{ConversationID: "conv", Messages: []Message{msg}, Online: []string{"C1"}})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	f, err := DecodeServer(raw)
	if err != nil {
		t.Fatalf("DecodeServer() error = %v", err)
	}
	h, ok := f.(History)
	if !ok {
		t.Fatalf("DecodeServer() = %T, want History", f)
	}
	if len(h.Messages) != 1 || h.Messages[0].Content != "hi" || !h.Messages[0].CreatedAt.Equal(at) {
		t.Errorf("History.Messages = %+v, want [%+v]", h.Messages, msg)
	}
	if len(h.Online) != 1 || h.Online[0] != "C1" {
		t.Errorf("History.Online = %v, want [C1]", h.Online)
	}

	raw, err = Encode(MessageReceived{Message: msg})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	f, err = DecodeServer(raw)
	if err != nil {
		t.Fatalf("DecodeServer() error = %v", err)
	}
	if mr, ok := f.(MessageReceived); !ok || mr.Seq != 1 || mr.SenderID != "U1" {
		t.Errorf("DecodeServer() = %#v, want MessageReceived seq 1 from U1", f)
	}
}

func TestEncode_EnvelopeShape(t *testing.T) {
	raw, err := Encode(PresenceChanged{ConversationID: "conv", ParticipantID: "U1", Online: true})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	want := `{"type":"presence_changed","data":{"conversation_id":"conv","participant_id":"U1","online":true}}`
	if string(raw) != want {
		t.Errorf("Encode() = %s, want %s", raw, want)
	}
}

func TestDecodeServer_RejectsClientFrames(t *testing.T) {
	raw, _ := Encode(SendMessage{Content: "hi"})
	if _, err := DecodeServer(raw); !errors.Is(err, ErrUnknownFrameType) {
		t.Errorf("DecodeServer() error = %v, want %v", err, ErrUnknownFrameType)
	}
}

func TestError_ImplementsError(t *testing.T) {
	var err error = NewError(CodeEmptyMessage, "message content is empty")
	if err.Error() != "EMPTY_MESSAGE: message content is empty" {
		t.Errorf("Error() = %q", err.Error())
	}
}
