package tools

import "encoding/json"

// Status discriminates tool outcomes for the model.
type Status string

const (
	StatusSuccess      Status = "success"
	StatusFailed       Status = "failed"
	StatusNotFound     Status = "not_found"
	StatusPartialError Status = "partial_error"
)

// Result is what a tool hands back to the conversation. It is
// serialized to JSON and persisted verbatim as the tool row content.
type Result struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	CanvasID string `json:"canvas_id,omitempty"`
	Data     any    `json:"data,omitempty"`
}

// Encode renders the result as the JSON string sent to the model.
// Encoding can only fail on unserializable Data; that collapses to a
// plain failure rather than an error.
func (r Result) Encode() string {
	blob, err := json.Marshal(r)
	if err != nil {
		return `{"status":"failed","message":"unencodable tool result"}`
	}
	return string(blob)
}

// Success builds a successful result with a note for the model.
func Success(message string) Result {
	return Result{Status: StatusSuccess, Message: message}
}

// Failed builds a failed result. The message tells the model what went
// wrong in terms it can relay or act on.
func Failed(message string) Result {
	return Result{Status: StatusFailed, Message: message}
}

// NotFound builds a result for a missing tool or missing target
// entity.
func NotFound(message string) Result {
	return Result{Status: StatusNotFound, Message: message}
}

// PartialError builds a result for operations that partly succeeded.
func PartialError(message string) Result {
	return Result{Status: StatusPartialError, Message: message}
}
