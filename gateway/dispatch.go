package gateway

import (
	"encoding/json"

	"github.com/cloudx-io/rentauction/eventbus"
	"github.com/cloudx-io/rentauction/marketapi"
)

// Target is one topic a client message is published to, with the event type
// receivers see it under.
type Target struct {
	Topic     string
	EventType string
}

var (
	analysisTarget     = Target{Topic: eventbus.TopicAnalysis, EventType: marketapi.EventAnalysisMessage}
	notificationTarget = Target{Topic: eventbus.TopicNotifications, EventType: marketapi.EventNotificationMessage}
)

// dispatchTable routes client messages by type. Types not listed, including
// an absent type and "general", fan out to defaultTargets.
var dispatchTable = map[string][]Target{
	marketapi.MessageTypeAnalysis:     {analysisTarget},
	marketapi.MessageTypeNotification: {notificationTarget},
}

var defaultTargets = []Target{analysisTarget, notificationTarget}

// Inbound is a parsed client message ready for dispatch.
type Inbound struct {
	Type    string
	Message json.RawMessage
	Targets []Target
}

// RejectedMessage is returned for client input that cannot be dispatched.
// Reason is sent back to the client verbatim.
type RejectedMessage struct {
	Reason string
}

func (e *RejectedMessage) Error() string {
	return e.Reason
}

// ParseInbound decodes a raw websocket frame. It returns either an Inbound
// or a *RejectedMessage, never both.
func ParseInbound(data []byte) (Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return Inbound{}, &RejectedMessage{Reason: marketapi.ReasonInvalidJSON}
	}

	message, ok := fields["message"]
	if !ok {
		return Inbound{}, &RejectedMessage{Reason: marketapi.ReasonMissingKey}
	}

	// A type that is not a string is just another unknown type
	msgType := marketapi.MessageTypeGeneral
	if raw, ok := fields["type"]; ok {
		var t string
		if err := json.Unmarshal(raw, &t); err == nil && t != "" {
			msgType = t
		}
	}

	targets, ok := dispatchTable[msgType]
	if !ok {
		targets = defaultTargets
	}
	return Inbound{Type: msgType, Message: message, Targets: targets}, nil
}

// Dispatch publishes the message to each of its targets.
func Dispatch(pub Publisher, in Inbound) []eventbus.Event {
	events := make([]eventbus.Event, 0, len(in.Targets))
	for _, t := range in.Targets {
		events = append(events, pub.Publish(t.Topic, t.EventType, in.Message))
	}
	return events
}
