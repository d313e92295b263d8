// Package rpc implements the remote execution service for Intcode programs.
//
// The service is plain gRPC with JSON-encoded messages, so no generated code
// is needed:
//
//	/intcode.Runner/Execute  ExecuteRequest -> ExecuteResponse
//
// Every request runs on a fresh machine; nothing is shared between requests.
package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// Service and method names.
const (
	ServiceName   = "intcode.Runner"
	executeMethod = "/" + ServiceName + "/Execute"
)

// ExecuteRequest asks the server to run a program in batch mode.
type ExecuteRequest struct {
	// Program is program text. Ref is used when it is empty.
	Program string `json:"program,omitempty"`

	// Ref names a stored program by name or base58 ID.
	Ref string `json:"ref,omitempty"`

	// Pokes patch memory before the first instruction runs.
	Pokes []Poke `json:"pokes,omitempty"`

	// Inputs are queued before running.
	Inputs []int64 `json:"inputs,omitempty"`

	// ASCII is queued after Inputs, one value per byte.
	ASCII string `json:"ascii,omitempty"`

	// StepLimit bounds execution. Zero or anything above the server
	// maximum means the server maximum.
	StepLimit uint64 `json:"step_limit,omitempty"`
}

// Poke is one memory patch.
type Poke struct {
	Addr  int64 `json:"addr"`
	Value int64 `json:"value"`
}

// ExecuteResponse reports the outputs of a batch run.
type ExecuteResponse struct {
	ProgramID string  `json:"program_id"`
	Outputs   []int64 `json:"outputs"`
	Status    string  `json:"status"` // "halted" or "blocked"
	Steps     uint64  `json:"steps"`
	Cursor    int64   `json:"cursor"`
}

// codecName is the gRPC content subtype of the JSON codec.
const codecName = "json"

// jsonCodec marshals gRPC messages as JSON.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
