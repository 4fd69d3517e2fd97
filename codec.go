// Package framed implements a length-and-type-prefixed message framing
// protocol over TCP. Each message on the wire is an 8-byte header followed
// by the payload: a big-endian unsigned 32-bit payload length and a
// big-endian signed 32-bit message type. The message type namespace is
// defined by the application.
//
// The package provides the pure wire codec, a Conn that sends and receives
// whole messages over a stream that may deliver bytes in arbitrary-sized
// chunks, and a Server with a start-once/stop-once lifecycle that dispatches
// each accepted connection to a user-supplied handler.
package framed

import "encoding/binary"

// HeaderSize is the size in bytes of the fixed message header.
const HeaderSize = 8

// EncodeMessage encodes a message type and payload into a single wire frame:
// header (payload length, message type) followed by the payload bytes. Both
// header fields are big-endian regardless of host byte order. A nil payload
// encodes the same as an empty one.
func EncodeMessage(msgType int32, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(msgType))
	copy(buf[HeaderSize:], payload)
	return buf
}

// DecodeHeader decodes the first HeaderSize bytes of header into the payload
// length and message type. It is the inverse of the header part of
// EncodeMessage and performs no validation; checking the declared length
// against the actual stream is the Conn's job.
func DecodeHeader(header []byte) (length uint32, msgType int32) {
	length = binary.BigEndian.Uint32(header[0:4])
	msgType = int32(binary.BigEndian.Uint32(header[4:8]))
	return length, msgType
}
