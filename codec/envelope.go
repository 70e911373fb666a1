// Package codec implements the wire serialization contracts of spec
// §4.1: envelope<->JSON, frame<->bytes, the envelope hash, and the
// pluggable payload compression wrapper.
package codec

import (
	"encoding/json"

	"github.com/relaymesh/umicp"
)

// EncodeEnvelope serializes e to its canonical JSON form. Unset optional
// fields are omitted, never emitted as null, because Envelope's json
// tags all carry omitempty.
func EncodeEnvelope(e *umicp.Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, umicp.NewError(umicp.ErrSerializationFailed, err.Error())
	}
	return data, nil
}

// DecodeEnvelope parses data into an Envelope. Unknown top-level keys are
// ignored (encoding/json's default behavior); missing required fields or
// an out-of-range op yield INVALID_ENVELOPE.
func DecodeEnvelope(data []byte) (*umicp.Envelope, error) {
	var e umicp.Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, umicp.NewError(umicp.ErrSerializationFailed, err.Error())
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
