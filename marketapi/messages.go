package marketapi

import "encoding/json"

// Inbound message types understood by the websocket gateway.
// Anything else, including an absent type, is treated as general.
const (
	MessageTypeAnalysis     = "analysis"
	MessageTypeNotification = "notification"
	MessageTypeGeneral      = "general"
)

// Error reasons sent back to the originating connection only.
const (
	ReasonInvalidJSON = "Invalid JSON format"
	ReasonMissingKey  = "Missing key in JSON data"
)

// InboundMessage is a client message received over the websocket.
type InboundMessage struct {
	Type    string          `json:"type,omitempty"`
	Message json.RawMessage `json:"message"`
}

// OutboundMessage is what a websocket client receives for every bus event.
type OutboundMessage struct {
	Topic   string `json:"topic"`
	Seq     uint64 `json:"seq"`
	Type    string `json:"type"`
	Message any    `json:"message"`
}

// ErrorMessage is sent to a single connection when its input is rejected.
type ErrorMessage struct {
	Error string `json:"error"`
}
