// Package jsoncodec registers a gRPC codec that carries messages as JSON. Clients select it
// with grpc.CallContentSubtype(Name).
package jsoncodec

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// Name is the content subtype: requests travel as application/grpc+json.
const Name = "json"

// Codec marshals plain Go structs with encoding/json.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (Codec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (Codec) Name() string { return Name }

func init() {
	encoding.RegisterCodec(Codec{})
}
