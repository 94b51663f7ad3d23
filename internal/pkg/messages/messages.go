package messages

import (
	amessages "github.com/airenas/async-api/pkg/messages"
)

const (
	st = "CVOX/"
	// Process queue name - new recording awaiting the pipeline
	Process = st + "Process"
	// Fail queue name
	Fail = st + "Fail"
	// StatusChange queue name - recording status events for the status service
	StatusChange = st + "StatusChange"
	// Inform queue name - recorder notifications
	Inform = st + "Inform"
)

// ProcessMessage is the main message passing a recording through the pipeline
type ProcessMessage struct {
	amessages.QueueMessage
	RequestID string `json:"requestID,omitempty"`
}

// NewMessageFrom creates a copy of a message
func NewMessageFrom(m *ProcessMessage) *ProcessMessage {
	return &ProcessMessage{QueueMessage: m.QueueMessage, RequestID: m.RequestID}
}

// StatusMessage carries a recording status change event
type StatusMessage struct {
	amessages.QueueMessage
	Status string `json:"status,omitempty"`
	Phase  string `json:"phase,omitempty"`
	Error  string `json:"error,omitempty"`
}

// FailMessage marks a recording as failed after retries are exhausted
type FailMessage struct {
	amessages.QueueMessage
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
}
