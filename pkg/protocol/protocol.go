// Package protocol defines the line-delimited JSON messages exchanged
// between the registry client and the statelet backend over a unix socket.
// One request, one response, in issuance order per connection; the byte-level
// framing beyond that is owned by the transport.
package protocol

import (
	"encoding/json"

	"github.com/statelet/statelet/pkg/schema"
)

// Operation identifies a state request kind
type Operation string

const (
	OpRegisterScalar Operation = "register_scalar"
	OpRegisterList   Operation = "register_list"
	OpExists         Operation = "exists"
	OpGet            Operation = "get"
	OpListGet        Operation = "list_get"
	OpUpdate         Operation = "update"
	OpListUpdate     Operation = "list_update"
	OpRemove         Operation = "remove"
	OpPing           Operation = "ping"
)

// Error codes carried in failed responses
const (
	CodeSchemaConflict = "SCHEMA_CONFLICT"
	CodeInvalidSchema  = "INVALID_SCHEMA"
	CodeInvalidKey     = "INVALID_KEY"
	CodeUnknownState   = "UNKNOWN_STATE"
	CodeInvalidJSON    = "INVALID_JSON"
	CodeStorageError   = "STORAGE_ERROR"
	CodeUnknownOp      = "UNKNOWN_OP"
)

// Message represents one state request
type Message struct {
	Operation Operation         `json:"op"`
	StateName string            `json:"stateName,omitempty"`
	Schema    *schema.Schema    `json:"schema,omitempty"`
	Key       string            `json:"key,omitempty"`
	Value     json.RawMessage   `json:"value,omitempty"`
	Values    []json.RawMessage `json:"values,omitempty"`
	RequestID string            `json:"requestId"`
	Timestamp int64             `json:"timestamp"`
}

// Response represents the backend's answer to one request. Absence of state
// is not an error: Success is true, Exists is false and Value is null.
type Response struct {
	RequestID string            `json:"requestId"`
	Success   bool              `json:"success"`
	Exists    bool              `json:"exists,omitempty"`
	Value     json.RawMessage   `json:"value,omitempty"`
	Values    []json.RawMessage `json:"values,omitempty"`
	ErrorCode string            `json:"errorCode,omitempty"`
	Error     string            `json:"error,omitempty"`
}
