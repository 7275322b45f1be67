package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrUnknownFrameType = errors.New("unknown frame type")
)

// Envelope is the outer shape of every frame on the wire.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode serialises f into its envelope.
func Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s frame: %w", f.FrameType(), err)
	}
	return json.Marshal(Envelope{Type: f.FrameType(), Data: data})
}

// DecodeClient parses a frame sent by a client.
func DecodeClient(raw []byte) (ClientFrame, error) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeJoinRoom:
		var v JoinRoom
		if err := decodeData(env, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeSendMessage:
		var v SendMessage
		if err := decodeData(env, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeLeaveRoom:
		var v LeaveRoom
		if err := decodeData(env, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypePing:
		var v Ping
		if err := decodeData(env, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, env.Type)
	}
}

// DecodeServer parses a frame sent by the server.
func DecodeServer(raw []byte) (ServerFrame, error) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeHistory:
		var v History
		if err := decodeData(env, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeMessageReceived:
		var v MessageReceived
		if err := decodeData(env, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypePresenceChanged:
		var v PresenceChanged
		if err := decodeData(env, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeError:
		var v Error
		if err := decodeData(env, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypePong:
		var v Pong
		if err := decodeData(env, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, env.Type)
	}
}

func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := strictUnmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return env, nil
}

func decodeData(env Envelope, v interface{}) error {
	if len(env.Data) == 0 || bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
		return nil
	}
	if err := strictUnmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedFrame, env.Type, err)
	}
	return nil
}

func strictUnmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("trailing data after frame")
	}
	return nil
}
