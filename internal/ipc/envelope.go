package ipc

import "encoding/json"

// Envelope is the wire shape shared by both directions of the channel.
// Requests carry an action and args; an absent id means no reply is
// expected. Responses echo the request id and carry an opaque result or
// an error string.
type Envelope struct {
	IsRequest bool            `json:"isRequest"`
	ID        *uint64         `json:"id,omitempty"`
	Action    string          `json:"action,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}
