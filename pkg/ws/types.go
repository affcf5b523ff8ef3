package ws

import "encoding/json"

// Message types sent by clients
const (
	TypeScript = "script"
	TypeChat   = "chat"
	TypeCancel = "cancel"
	TypePing   = "ping"
)

// Message types sent by the server besides session events
const (
	TypePong     = "pong"
	TypeError    = "error"
	TypeSnapshot = "snapshot"
)

// Message is the envelope of every WebSocket frame
type Message struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

// ScriptContent asks for a new comic
type ScriptContent struct {
	Script string `json:"script"`
}

// ChatContent is a chat message typed by the user
type ChatContent struct {
	Content string `json:"content"`
}

// ErrorContent reports a failed request
type ErrorContent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage encodes content into an envelope
func NewMessage(msgType string, content any) ([]byte, error) {
	msg := Message{Type: msgType}
	if content != nil {
		raw, err := json.Marshal(content)
		if err != nil {
			return nil, err
		}
		msg.Content = raw
	}
	return json.Marshal(msg)
}
