package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// Inbound message types.
const (
	TypeJoinBoard   = "join-board"
	TypeLeaveBoard  = "leave-board"
	TypeBoardUpdate = "board-update"
	TypeCardMoved   = "card-moved"
)

// Outbound message types.
const (
	TypeJoinedBoard  = "joined-board"
	TypeBoardUpdated = "board-updated"
	TypeError        = "error"
)

// Envelope is the frame exchanged over the realtime channel.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// JoinBoard asks to subscribe to a board room.
type JoinBoard struct {
	BoardID string `json:"boardId" validate:"required"`
}

// LeaveBoard asks to unsubscribe from a board room.
type LeaveBoard struct {
	BoardID string `json:"boardId" validate:"required"`
}

// BoardPatch carries the full replacement column list plus optional header fields.
type BoardPatch struct {
	Title       *string  `json:"title,omitempty" validate:"omitnil,min=1"`
	Description *string  `json:"description,omitempty"`
	Columns     []Column `json:"columns" validate:"required,dive"`
}

// BoardUpdate replaces a board's columns wholesale.
type BoardUpdate struct {
	BoardID     string     `json:"boardId" validate:"required"`
	Updates     BoardPatch `json:"updates"`
	BaseVersion *int64     `json:"baseVersion,omitempty"`
	RequestID   string     `json:"requestId,omitempty"`
}

// CardMove relocates one card.
type CardMove struct {
	BoardID        string `json:"boardId" validate:"required"`
	SourceColumnID string `json:"sourceColumnId" validate:"required"`
	DestColumnID   string `json:"destColumnId" validate:"required"`
	CardID         string `json:"cardId" validate:"required"`
	NewPosition    int    `json:"newPosition"`
	RequestID      string `json:"requestId,omitempty"`
}

// JoinedBoard acknowledges a successful join.
type JoinedBoard struct {
	BoardID string `json:"boardId"`
}

// ErrorMessage is sent only to the connection whose request failed.
type ErrorMessage struct {
	Message string `json:"message"`
}

// DecodeEnvelope parses a frame without looking at its data.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := sonic.Unmarshal(frame, &env); err != nil {
		return Envelope{}, &ValidationError{Reason: "malformed frame"}
	}
	if env.Type == "" {
		return Envelope{}, &ValidationError{Field: "type", Reason: "required"}
	}
	return env, nil
}

// DecodeStrict decodes data into v rejecting unknown fields, then validates v.
func DecodeStrict(data []byte, v any) error {
	if len(data) == 0 {
		return &ValidationError{Field: "data", Reason: "required"}
	}
	dec := sonic.ConfigStd.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	return Validate(v)
}

// EncodeMessage builds an outbound frame.
func EncodeMessage(msgType string, data any) ([]byte, error) {
	raw, err := sonic.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msgType, err)
	}
	return sonic.Marshal(Envelope{Type: msgType, Data: raw})
}

// ErrorFrame encodes an error message. Encoding a string cannot fail.
func ErrorFrame(message string) []byte {
	frame, _ := EncodeMessage(TypeError, ErrorMessage{Message: message})
	return frame
}

// UserMessage returns the text sent to a client for a failed operation.
func UserMessage(action string, err error) string {
	var verr *ValidationError
	var perr *PersistenceError
	switch {
	case errors.As(err, &verr):
		return action + ": " + verr.Error()
	case errors.As(err, &perr):
		return action
	case errors.Is(err, ErrForbidden):
		return action + ": access denied"
	case errors.Is(err, ErrBoardNotFound):
		return action + ": board not found"
	case errors.Is(err, ErrVersionConflict):
		return action + ": board was changed by someone else"
	default:
		return action
	}
}
