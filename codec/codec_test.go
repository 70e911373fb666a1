package codec

import (
	"bytes"
	"testing"

	"github.com/relaymesh/umicp"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	e := &umicp.Envelope{
		Version: "1.0",
		MsgID:   "msg-1-001",
		TS:      "2024-01-01T00:00:00.000Z",
		From:    "A",
		To:      "B",
		Op:      umicp.OpControl,
	}

	data, err := EncodeEnvelope(e)
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}

	got, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}

	if got.Version != e.Version || got.MsgID != e.MsgID || got.TS != e.TS ||
		got.From != e.From || got.To != e.To || got.Op != e.Op {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, e)
	}
}

func TestEnvelopeRoundTripOptionalFields(t *testing.T) {
	e := &umicp.Envelope{
		Version:      "1.0",
		MsgID:        "msg-1-002",
		TS:           "2024-01-01T00:00:00.000Z",
		From:         "A",
		To:           "B",
		Op:           umicp.OpData,
		Capabilities: map[string]string{"command": "ping"},
		SchemaURI:    "https://example.com/schema.json",
		Accept:       []string{"json", "cbor"},
		PayloadHint:  &umicp.PayloadHint{Type: umicp.PayloadBinary, Size: 4, Encoding: umicp.EncodingUint8, Count: 4},
		PayloadRefs:  []map[string]string{{"message_id": "msg-1-001", "status": "OK"}},
	}

	data, err := EncodeEnvelope(e)
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}

	got, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}

	if got.Capabilities["command"] != "ping" {
		t.Errorf("Capabilities lost: %+v", got.Capabilities)
	}
	if got.SchemaURI != e.SchemaURI {
		t.Errorf("SchemaURI = %q, want %q", got.SchemaURI, e.SchemaURI)
	}
	if len(got.Accept) != 2 || got.Accept[0] != "json" {
		t.Errorf("Accept = %+v", got.Accept)
	}
	if got.PayloadHint == nil || got.PayloadHint.Size != 4 {
		t.Errorf("PayloadHint = %+v", got.PayloadHint)
	}
	if len(got.PayloadRefs) != 1 || got.PayloadRefs[0]["message_id"] != "msg-1-001" {
		t.Errorf("PayloadRefs = %+v", got.PayloadRefs)
	}
}

func TestEncodeEnvelopeOmitsUnsetOptionals(t *testing.T) {
	e := &umicp.Envelope{Version: "1.0", MsgID: "m", TS: "t", From: "a", To: "b", Op: umicp.OpControl}
	data, err := EncodeEnvelope(e)
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}
	for _, key := range []string{"capabilities", "schema_uri", "accept", "payload_hint", "payload_refs"} {
		if bytes.Contains(data, []byte(`"`+key+`"`)) {
			t.Errorf("expected %q to be omitted from %s", key, data)
		}
	}
}

func TestDecodeEnvelopeMissingRequiredField(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"version":"1.0","from":"a","to":"b","op":0}`))
	if err == nil {
		t.Fatal("expected error for missing msg_id")
	}
	perr, ok := err.(*umicp.Error)
	if !ok || perr.Kind != umicp.ErrInvalidEnvelope {
		t.Errorf("expected ErrInvalidEnvelope, got %v", err)
	}
}

func TestDecodeEnvelopeOutOfRangeOp(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"version":"1.0","msg_id":"m","ts":"t","from":"a","to":"b","op":9}`))
	if err == nil {
		t.Fatal("expected error for out-of-range op")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	f := &umicp.Frame{
		Header: umicp.FrameHeader{
			Version:  1,
			Type:     umicp.OpData,
			Flags:    0,
			StreamID: 42,
			Sequence: 1,
			Length:   4,
		},
		Payload: []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}

	data, err := EncodeFrame(f, 0)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if len(data) != 24 {
		t.Fatalf("expected 24 bytes, got %d", len(data))
	}
	if data[0] != 0x01 || data[1] != 0x01 {
		t.Errorf("header bytes 0,1 = %x, %x; want 0x01, 0x01", data[0], data[1])
	}

	got, err := DecodeFrame(data, 0)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if got.Header != f.Header {
		t.Errorf("header mismatch: got %+v, want %+v", got.Header, f.Header)
	}
	if !bytes.Equal(got.Payload, f.Payload) {
		t.Errorf("payload mismatch: got %x, want %x", got.Payload, f.Payload)
	}
}

func TestDecodeFrameTruncatedHeader(t *testing.T) {
	_, err := DecodeFrame(make([]byte, 10), 0)
	if err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestDecodeFrameLengthExceedsMax(t *testing.T) {
	f := &umicp.Frame{Header: umicp.FrameHeader{Version: 1, Type: umicp.OpData}, Payload: make([]byte, 100)}
	data, err := EncodeFrame(f, 0)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if _, err := DecodeFrame(data, 50); err == nil {
		t.Fatal("expected error when length exceeds max")
	}
}

func TestEncodeFrameRejectsOversizedPayload(t *testing.T) {
	f := &umicp.Frame{Header: umicp.FrameHeader{Version: 1, Type: umicp.OpData}, Payload: make([]byte, 1025)}
	if _, err := EncodeFrame(f, 1024); err == nil {
		t.Fatal("expected error for oversized payload")
	}
}

func TestLooksLikeFrame(t *testing.T) {
	f := &umicp.Frame{Header: umicp.FrameHeader{Version: 1, Type: umicp.OpData, StreamID: 7}, Payload: []byte("hi")}
	data, err := EncodeFrame(f, 0)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if !LooksLikeFrame(data, FrameWireVersion) {
		t.Error("expected frame-shaped bytes to be recognized")
	}

	envelope := []byte(`{"version":"1.0","msg_id":"m","ts":"t","from":"a","to":"b","op":0}`)
	if LooksLikeFrame(envelope, FrameWireVersion) {
		t.Error("expected JSON envelope bytes not to be recognized as a frame")
	}
}

func TestHashEnvelopeStableForSameInput(t *testing.T) {
	e := &umicp.Envelope{Version: "1.0", MsgID: "m", TS: "t", From: "a", To: "b", Op: umicp.OpControl}
	h1 := HashEnvelope(e)
	h2 := HashEnvelope(e)
	if h1 != h2 {
		t.Errorf("expected stable hash, got %q and %q", h1, h2)
	}
	if h1 == "" {
		t.Error("expected non-empty hash")
	}
}

func TestHashEnvelopeDiffersOnFieldChange(t *testing.T) {
	base := &umicp.Envelope{Version: "1.0", MsgID: "m", TS: "t", From: "a", To: "b", Op: umicp.OpControl}
	changed := *base
	changed.MsgID = "other"
	if HashEnvelope(base) == HashEnvelope(&changed) {
		t.Error("expected different hash for different msg_id")
	}
}

func TestCompressRoundTrip(t *testing.T) {
	for _, algo := range []CompressionAlgo{CompressionNone, CompressionZlib, CompressionGzip} {
		data := bytes.Repeat([]byte("umicp payload data "), 100)
		compressed, err := Compress(data, algo, 0)
		if err != nil {
			t.Fatalf("Compress(%v): %v", algo, err)
		}
		out, err := Decompress(compressed, algo)
		if err != nil {
			t.Fatalf("Decompress(%v): %v", algo, err)
		}
		if !bytes.Equal(out, data) {
			t.Errorf("round trip mismatch for algo %v", algo)
		}
	}
}

func TestCompressEmptyInput(t *testing.T) {
	out, err := Compress(nil, CompressionGzip, 0)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty output, got %d bytes", len(out))
	}
}

func TestDecompressCorruptInput(t *testing.T) {
	_, err := Decompress([]byte{1, 2, 3, 4}, CompressionGzip)
	if err == nil {
		t.Fatal("expected error for corrupt gzip input")
	}
}

func TestShouldCompress(t *testing.T) {
	small := []byte("hi")
	big := bytes.Repeat([]byte("x"), 1000)

	if ShouldCompress(small, 100, CompressionGzip) {
		t.Error("expected small payload below threshold not to compress")
	}
	if !ShouldCompress(big, 100, CompressionGzip) {
		t.Error("expected large payload above threshold to compress")
	}
	if ShouldCompress(big, 100, CompressionNone) {
		t.Error("expected CompressionNone never to compress")
	}
}

func TestCBOREnvelopeRoundTrip(t *testing.T) {
	e := &umicp.Envelope{Version: "1.0", MsgID: "m", TS: "t", From: "a", To: "b", Op: umicp.OpAck}
	data, err := EncodeEnvelopeCBOR(e)
	if err != nil {
		t.Fatalf("EncodeEnvelopeCBOR: %v", err)
	}
	got, err := DecodeEnvelopeCBOR(data)
	if err != nil {
		t.Fatalf("DecodeEnvelopeCBOR: %v", err)
	}
	if got.Version != e.Version || got.MsgID != e.MsgID || got.TS != e.TS ||
		got.From != e.From || got.To != e.To || got.Op != e.Op {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, e)
	}
}
