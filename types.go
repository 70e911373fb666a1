// Package umicp implements the core data model of the UMICP protocol: the
// JSON control-plane envelope, the binary data-plane frame, and the result
// type used across the rest of the module.
package umicp

import "fmt"

// OperationType is the kind of a message, carried by both envelopes and
// frames.
type OperationType uint8

const (
	OpControl OperationType = iota
	OpData
	OpAck
	OpError
)

func (o OperationType) String() string {
	switch o {
	case OpControl:
		return "CONTROL"
	case OpData:
		return "DATA"
	case OpAck:
		return "ACK"
	case OpError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(o))
	}
}

// Valid reports whether o is one of the declared operation kinds.
func (o OperationType) Valid() bool {
	return o <= OpError
}

// ContentType names the preferred wire encoding for the control plane.
type ContentType uint8

const (
	ContentJSON ContentType = iota
	ContentCBOR
	ContentMsgPack
)

func (c ContentType) String() string {
	switch c {
	case ContentJSON:
		return "JSON"
	case ContentCBOR:
		return "CBOR"
	case ContentMsgPack:
		return "MSGPACK"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(c))
	}
}

// PayloadType describes the shape of a frame's binary payload, as carried
// in an envelope's PayloadHint.
type PayloadType uint8

const (
	PayloadVector PayloadType = iota
	PayloadText
	PayloadMetadata
	PayloadBinary
)

// EncodingType describes the element encoding of a vector payload.
type EncodingType uint8

const (
	EncodingFloat32 EncodingType = iota
	EncodingFloat64
	EncodingInt32
	EncodingInt64
	EncodingUint8
	EncodingUint16
	EncodingUint32
	EncodingUint64
)

// FrameFlags is the little-endian bitfield carried at offset 2 of a frame
// header.
type FrameFlags uint16

const (
	FlagCompressedGzip FrameFlags = 1 << iota
	FlagCompressedBrotli
	FlagEncryptedXChaCha20
	FlagFragmentStart
	FlagFragmentContinue
	FlagFragmentEnd
	FlagStreamStart
	FlagStreamEnd
)

func (f FrameFlags) Has(bit FrameFlags) bool { return f&bit != 0 }

// TransportKind names a pluggable transport implementation.
type TransportKind uint8

const (
	TransportWebSocket TransportKind = iota
	TransportHTTP2
	TransportMatrix
	TransportDirect
)

func (t TransportKind) String() string {
	switch t {
	case TransportWebSocket:
		return "websocket"
	case TransportHTTP2:
		return "http2"
	case TransportMatrix:
		return "matrix"
	case TransportDirect:
		return "direct"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ErrorKind is a stable numeric error ordinal surfaced to callers, per the
// protocol's external interface.
type ErrorKind uint8

const (
	ErrSuccess ErrorKind = iota
	ErrInvalidEnvelope
	ErrInvalidFrame
	ErrAuthenticationFailed
	ErrDecryptionFailed
	ErrCompressionFailed
	ErrSerializationFailed
	ErrNetworkError
	ErrTimeout
	ErrBufferOverflow
	ErrInvalidArgument
	ErrNotImplemented
	ErrDecompressionFailed
)

func (e ErrorKind) String() string {
	switch e {
	case ErrSuccess:
		return "SUCCESS"
	case ErrInvalidEnvelope:
		return "INVALID_ENVELOPE"
	case ErrInvalidFrame:
		return "INVALID_FRAME"
	case ErrAuthenticationFailed:
		return "AUTHENTICATION_FAILED"
	case ErrDecryptionFailed:
		return "DECRYPTION_FAILED"
	case ErrCompressionFailed:
		return "COMPRESSION_FAILED"
	case ErrSerializationFailed:
		return "SERIALIZATION_FAILED"
	case ErrNetworkError:
		return "NETWORK_ERROR"
	case ErrTimeout:
		return "TIMEOUT"
	case ErrBufferOverflow:
		return "BUFFER_OVERFLOW"
	case ErrInvalidArgument:
		return "INVALID_ARGUMENT"
	case ErrNotImplemented:
		return "NOT_IMPLEMENTED"
	case ErrDecompressionFailed:
		return "DECOMPRESSION_FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(e))
	}
}

// Error is the (kind, message) pair carried by a failed Result. It
// implements the standard error interface so it composes with %w and
// errors.As/Is.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds an *Error for the given kind and message.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// FrameHeaderSize is the fixed size, in bytes, of a frame header:
// version(1) + type(1) + flags(2) + stream_id(8) + sequence(4) + length(4).
const FrameHeaderSize = 20

// MaxMessageSize is the default upper bound on a frame payload's length,
// overridable via orchestrator/transport configuration.
const MaxMessageSize = 1024 * 1024 // 1 MiB

// PayloadHint describes a frame that accompanies (or will accompany) an
// envelope.
type PayloadHint struct {
	Type     PayloadType   `json:"type"`
	Size     int           `json:"size"`
	Encoding EncodingType  `json:"encoding"`
	Count    int           `json:"count"`
}

// Envelope is the JSON control-plane record described in spec §3.
type Envelope struct {
	Version      string              `json:"version"`
	MsgID        string              `json:"msg_id"`
	TS           string              `json:"ts"`
	From         string              `json:"from"`
	To           string              `json:"to"`
	Op           OperationType       `json:"op"`
	Capabilities map[string]string   `json:"capabilities,omitempty"`
	SchemaURI    string              `json:"schema_uri,omitempty"`
	Accept       []string            `json:"accept,omitempty"`
	PayloadHint  *PayloadHint        `json:"payload_hint,omitempty"`
	PayloadRefs  []map[string]string `json:"payload_refs,omitempty"`
}

// Validate checks the required-field and range invariants of spec §3.
func (e *Envelope) Validate() error {
	switch {
	case e.Version == "":
		return NewError(ErrInvalidEnvelope, "version is required")
	case e.MsgID == "":
		return NewError(ErrInvalidEnvelope, "msg_id is required")
	case e.From == "":
		return NewError(ErrInvalidEnvelope, "from is required")
	case e.To == "":
		return NewError(ErrInvalidEnvelope, "to is required")
	case !e.Op.Valid():
		return NewError(ErrInvalidEnvelope, fmt.Sprintf("op %d out of range", e.Op))
	}
	return nil
}

// FrameHeader is the fixed 20-byte prefix of a frame, per spec §3.
type FrameHeader struct {
	Version  uint8
	Type     OperationType
	Flags    FrameFlags
	StreamID uint64
	Sequence uint32
	Length   uint32
}

// Frame is the binary data-plane record: a header plus opaque payload.
type Frame struct {
	Header  FrameHeader
	Payload []byte
}
