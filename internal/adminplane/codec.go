package adminplane

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is advertised to clients via the grpc-encoding header. Using a
// name distinct from "proto" keeps this codec opt-in: a client that dials
// without requesting it falls back to grpc-go's default and fails fast with
// a clear "unsupported codec" error instead of silently misparsing bytes.
const codecName = "econos-json"

// jsonCodec marshals plain Go structs as JSON instead of protobuf wire
// format. control-plane/main.go's RPCs are generated from a .proto package
// that isn't reachable from this module (no protoc, no vendored stub), so
// the service here hand-declares its ServiceDesc against this codec rather
// than against generated message types. grpc-go's Codec interface is
// explicitly pluggable for exactly this case.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
