package hub

import "encoding/json"

// Inbound message types accepted from clients.
const (
	MsgAuthenticate = "authenticate"
	MsgSubscribe    = "subscribe"
	MsgUnsubscribe  = "unsubscribe"
)

// Outbound message types pushed to clients.
const (
	MsgInitialSnapshot = "initial_snapshot"
	MsgAlert           = "alert"
	MsgAuthError       = "auth_error"
	MsgAuthOK          = "auth_ok"
)

// inboundMessage is the wire shape of client→server messages.
type inboundMessage struct {
	Type       string `json:"type"`
	Credential string `json:"credential,omitempty"`
	Topic      string `json:"topic,omitempty"`
}

// envelope is the wire shape of server→client messages.
type envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

func marshalEnvelope(msgType string, data interface{}) ([]byte, error) {
	return json.Marshal(envelope{Type: msgType, Data: data})
}
