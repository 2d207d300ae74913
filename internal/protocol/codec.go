package protocol

import (
	"github.com/bytedance/sonic"
)

// wire is the JSON codec used on every hop. ConfigStd keeps encoding/json
// compatible output (sorted map keys, HTML escaping) so peers written
// against the standard library read it unchanged.
var wire = sonic.ConfigStd

// Marshal encodes v as compact JSON.
func Marshal(v any) ([]byte, error) {
	return wire.Marshal(v)
}

// Unmarshal decodes JSON data into v.
func Unmarshal(data []byte, v any) error {
	return wire.Unmarshal(data, v)
}

