// Package eventstream encodes AWS-style binary Event Stream messages, used
// by the framed ("Bedrock") proxy dialect to wrap each Anthropic SSE event
// as one binary chunk.
//
// Wire format per message:
//
//	[total_len u32BE][headers_len u32BE][prelude_crc u32BE][headers][payload][message_crc u32BE]
//
// prelude_crc is the CRC32 (IEEE) of the first 8 bytes (total_len+headers_len).
// message_crc is the CRC32 (IEEE) of every byte preceding it.
package eventstream

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
)

// Header is a single event-stream header: a name/value pair encoded with
// the fixed string type code (7).
type Header struct {
	Name  string
	Value string
}

const headerTypeString = 7

// EncodeMessage builds one complete framed message from headers and payload.
func EncodeMessage(headers []Header, payload []byte) []byte {
	var headerBuf bytes.Buffer
	for _, h := range headers {
		headerBuf.WriteByte(byte(len(h.Name)))
		headerBuf.WriteString(h.Name)
		headerBuf.WriteByte(headerTypeString)
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(h.Value)))
		headerBuf.Write(lenBuf[:])
		headerBuf.WriteString(h.Value)
	}

	headersLen := headerBuf.Len()
	totalLen := 16 + headersLen + len(payload)

	msg := make([]byte, 0, totalLen)
	msg = binary.BigEndian.AppendUint32(msg, uint32(totalLen))
	msg = binary.BigEndian.AppendUint32(msg, uint32(headersLen))

	preludeCRC := crc32.ChecksumIEEE(msg[:8])
	msg = binary.BigEndian.AppendUint32(msg, preludeCRC)

	msg = append(msg, headerBuf.Bytes()...)
	msg = append(msg, payload...)

	messageCRC := crc32.ChecksumIEEE(msg)
	msg = binary.BigEndian.AppendUint32(msg, messageCRC)

	return msg
}

// EncodeChunk wraps a single JSON event payload as a base64-encoded
// "bytes" field and frames it as an event-stream "chunk" message, matching
// the shape Bedrock's invoke-with-response-stream API emits.
func EncodeChunk(dataJSON []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(dataJSON)
	payload, _ := json.Marshal(struct {
		Bytes string `json:"bytes"`
	}{Bytes: encoded})

	headers := []Header{
		{Name: ":message-type", Value: "event"},
		{Name: ":event-type", Value: "chunk"},
		{Name: ":content-type", Value: "application/json"},
	}
	return EncodeMessage(headers, payload)
}
