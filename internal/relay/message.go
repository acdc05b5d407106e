package relay

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ChatMessage is the envelope carried by every frame on the wire.
type ChatMessage struct {
	Username string `json:"username"`
	Content  string `json:"content"`
}

func (m ChatMessage) String() string {
	return fmt.Sprintf("%s: %s", m.Username, m.Content)
}

// wireMessage distinguishes a missing field from an empty one.
type wireMessage struct {
	Username *string `json:"username" validate:"required"`
	Content  *string `json:"content" validate:"required"`
}

// Encode serializes the envelope for a text frame.
func Encode(m ChatMessage) []byte {
	// A struct of two strings always marshals.
	data, _ := json.Marshal(m)
	return data
}

// Decode parses a frame payload. Malformed payloads yield a *DecodeError.
func Decode(data []byte) (ChatMessage, error) {
	if !utf8.Valid(data) {
		return ChatMessage{}, &DecodeError{Reason: "payload is not valid UTF-8"}
	}

	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return ChatMessage{}, &DecodeError{Reason: "invalid JSON", Err: err}
	}
	if err := validate.Struct(wire); err != nil {
		return ChatMessage{}, &DecodeError{Reason: "missing field", Err: err}
	}

	return ChatMessage{Username: *wire.Username, Content: *wire.Content}, nil
}
