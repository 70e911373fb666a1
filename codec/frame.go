package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/relaymesh/umicp"
)

// EncodeFrame serializes f into the exact 20-byte-header-plus-payload
// wire layout of spec §3. maxSize bounds the payload length; a zero
// maxSize falls back to umicp.MaxMessageSize.
func EncodeFrame(f *umicp.Frame, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = umicp.MaxMessageSize
	}
	if len(f.Payload) > maxSize {
		return nil, umicp.NewError(umicp.ErrInvalidFrame, fmt.Sprintf("payload length %d exceeds max %d", len(f.Payload), maxSize))
	}

	buf := make([]byte, umicp.FrameHeaderSize+len(f.Payload))
	buf[0] = f.Header.Version
	buf[1] = byte(f.Header.Type)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(f.Header.Flags))
	binary.LittleEndian.PutUint64(buf[4:12], f.Header.StreamID)
	binary.LittleEndian.PutUint32(buf[12:16], f.Header.Sequence)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(f.Payload)))
	copy(buf[20:], f.Payload)
	return buf, nil
}

// DecodeFrame parses the exact wire layout of spec §3 back into a Frame.
func DecodeFrame(data []byte, maxSize int) (*umicp.Frame, error) {
	if maxSize <= 0 {
		maxSize = umicp.MaxMessageSize
	}
	if len(data) < umicp.FrameHeaderSize {
		return nil, umicp.NewError(umicp.ErrInvalidFrame, fmt.Sprintf("header too short: %d bytes", len(data)))
	}

	length := binary.LittleEndian.Uint32(data[16:20])
	if int(length) > maxSize {
		return nil, umicp.NewError(umicp.ErrInvalidFrame, fmt.Sprintf("length %d exceeds max %d", length, maxSize))
	}
	if len(data) != umicp.FrameHeaderSize+int(length) {
		return nil, umicp.NewError(umicp.ErrInvalidFrame, fmt.Sprintf("length field %d does not match body size %d", length, len(data)-umicp.FrameHeaderSize))
	}

	f := &umicp.Frame{
		Header: umicp.FrameHeader{
			Version:  data[0],
			Type:     umicp.OperationType(data[1]),
			Flags:    umicp.FrameFlags(binary.LittleEndian.Uint16(data[2:4])),
			StreamID: binary.LittleEndian.Uint64(data[4:12]),
			Sequence: binary.LittleEndian.Uint32(data[12:16]),
			Length:   length,
		},
	}
	if length > 0 {
		f.Payload = make([]byte, length)
		copy(f.Payload, data[20:20+length])
	}
	return f, nil
}

// LooksLikeFrame applies the §4.2 heuristic that discriminates a binary
// frame from a JSON envelope on the wire: the first byte must equal the
// current frame wire version and the declared length must account for
// the entire buffer.
func LooksLikeFrame(data []byte, frameVersion uint8) bool {
	if len(data) < umicp.FrameHeaderSize {
		return false
	}
	if data[0] != frameVersion {
		return false
	}
	length := binary.LittleEndian.Uint32(data[16:20])
	return int(length)+umicp.FrameHeaderSize == len(data)
}

// FrameWireVersion is the current frame wire version, per spec §3.
const FrameWireVersion uint8 = 1
