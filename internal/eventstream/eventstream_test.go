package eventstream

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"testing"
)

func TestEncodeMessageFraming(t *testing.T) {
	headers := []Header{{Name: "a", Value: "b"}}
	payload := []byte("hello")
	msg := EncodeMessage(headers, payload)

	totalLen := binary.BigEndian.Uint32(msg[0:4])
	headersLen := binary.BigEndian.Uint32(msg[4:8])
	if int(totalLen) != len(msg) {
		t.Fatalf("total_len mismatch: header says %d, actual %d", totalLen, len(msg))
	}

	wantPreludeCRC := crc32.ChecksumIEEE(msg[:8])
	gotPreludeCRC := binary.BigEndian.Uint32(msg[8:12])
	if wantPreludeCRC != gotPreludeCRC {
		t.Fatalf("prelude CRC mismatch")
	}

	wantMessageCRC := crc32.ChecksumIEEE(msg[:len(msg)-4])
	gotMessageCRC := binary.BigEndian.Uint32(msg[len(msg)-4:])
	if wantMessageCRC != gotMessageCRC {
		t.Fatalf("message CRC mismatch")
	}

	headersStart := 12
	headersEnd := headersStart + int(headersLen)
	gotPayload := msg[headersEnd : len(msg)-4]
	if string(gotPayload) != "hello" {
		t.Fatalf("unexpected payload: %q", gotPayload)
	}
}

func TestEncodeChunkRoundTrip(t *testing.T) {
	data := []byte(`{"type":"content_block_delta"}`)
	msg := EncodeChunk(data)

	headersLen := binary.BigEndian.Uint32(msg[4:8])
	headersStart := 12
	payloadStart := headersStart + int(headersLen)
	payload := msg[payloadStart : len(msg)-4]

	var decoded struct {
		Bytes string `json:"bytes"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(decoded.Bytes)
	if err != nil {
		t.Fatalf("base64 decode: %v", err)
	}
	if string(raw) != string(data) {
		t.Fatalf("round trip mismatch: want %s got %s", data, raw)
	}
}
