package transport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec carries this package's wire types — the RPC shapes from internal/raft
// plus the Envelope and command wrappers in wire.go — through encoding/json. All of
// them are plain JSON-tagged structs, so forcing this codec on every call is what
// lets the whole node-to-node surface run without generated protobuf types.
type jsonCodec struct{}

var _ encoding.Codec = jsonCodec{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func init() {
	// Registered once so servers resolving the negotiated "json" content subtype
	// find it; clients pass it explicitly via grpc.ForceCodec.
	encoding.RegisterCodec(jsonCodec{})
}
