package rpc

import (
	"bytes"
	"encoding/json"
)

// request is an outbound call frame: {"id": n, "method": "...", "params": {...}}
type request struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// resultResponse and errorResponse are the two response frame shapes. They
// are kept separate so that a nil or zero-valued result still serializes as
// an explicit "result" field.
type resultResponse struct {
	ID     uint64 `json:"id"`
	Result any    `json:"result"`
}

type errorResponse struct {
	ID    uint64    `json:"id"`
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
}

// notification is an outbound push frame; the absence of an id is what marks
// it as unsolicited.
type notification struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

// inbound covers every frame shape a peer may deliver. A payload with a
// numeric id is a response; a payload with a method and no id is a
// notification; anything else is ignored.
type inbound struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

var jsonNull = []byte("null")

// splitFrames splits a delivery into individual JSON payloads. A single
// receive may carry several newline-joined payloads; empty segments are
// discarded.
func splitFrames(data []byte) [][]byte {
	var frames [][]byte
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		frames = append(frames, line)
	}
	return frames
}

// remoteError builds the error for a response whose error field is present.
// Servers are only required to provide {"message": "..."}; anything else
// falls back to a generic message rather than being rejected.
func remoteError(raw json.RawMessage) error {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return &RemoteError{Message: body.Message}
	}
	return &RemoteError{Message: "remote call failed"}
}
