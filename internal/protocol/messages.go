// Package protocol defines the WebSocket message protocol between clients and the gateway.
package protocol

import (
	"encoding/json"
	"time"
)

// Message types from client to gateway
const (
	TypeCallUser      = "callUser"
	TypeAcceptCall    = "acceptCall"
	TypeCreateMessage = "createMessage"
)

// Message types from gateway to client
const (
	TypeConnected    = "connected"
	TypeOnMessage    = "onMessage"
	TypeYourID       = "yourID"
	TypeAllUsers     = "allUsers"
	TypeHey          = "hey"
	TypeCallAccepted = "callAccepted"
	TypeError        = "error"
)

// Close codes sent when a handshake is rejected.
const (
	CloseAuthRequired  = 4401
	CloseNotFound      = 4404
	CloseAuthTimeout   = 4408
	CloseInternalError = 1011
)

// Envelope wraps every frame in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Ts   int64           `json:"ts"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ConnectedData is the payload of the connected acknowledgment.
type ConnectedData struct {
	Status       string `json:"status"`
	ConnectionID string `json:"connectionId"`
	UserID       int64  `json:"userId"`
}

// CallUserData asks the gateway to relay a signal to another connection.
type CallUserData struct {
	UserToCall string          `json:"userToCall"`
	SignalData json.RawMessage `json:"signalData"`
	From       string          `json:"from"`
}

// HeyData is relayed to the callee of a callUser.
type HeyData struct {
	Signal json.RawMessage `json:"signal"`
	From   string          `json:"from"`
}

// AcceptCallData answers a call.
type AcceptCallData struct {
	To     string          `json:"to"`
	Signal json.RawMessage `json:"signal"`
}

// CreateMessageData posts a message into a conversation over the socket.
type CreateMessageData struct {
	ConversationID int64  `json:"conversationId"`
	Content        string `json:"content"`
}

// ErrorData is sent by the gateway when an inbound frame cannot be handled.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeTargetOffline  = "target_offline"
	ErrorCodeUnsupported    = "unsupported"
	ErrorCodeRejected       = "rejected"
)

// Encode builds a timestamped frame.
func Encode(typ string, data interface{}) ([]byte, error) {
	env := Envelope{Type: typ, Ts: time.Now().UnixMilli()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// Decode parses a frame; Data is left raw for the type-specific handler.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(frame, &env)
	return env, err
}
