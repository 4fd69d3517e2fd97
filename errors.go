package framed

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errors returned by connection and server operations.
var (
	// ErrConnectionEnded is returned when the peer closed its side of the
	// stream before a full message was received. This is the expected way to
	// observe the end of a session; callers should treat it as a normal
	// loop-termination condition rather than a failure.
	ErrConnectionEnded = errors.New("connection ended by peer")
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrMessageTooLarge is returned when a message exceeds the maximum
	// allowed size, either on send (payload longer than the length field can
	// represent) or on receive (declared length above the configured limit).
	ErrMessageTooLarge = errors.New("message too large")
	// ErrServerAlreadyStarted is returned by Server.Start when the server has
	// already left the created state.
	ErrServerAlreadyStarted = errors.New("server already started")
)

// UnexpectedTypeError is returned by Conn.ReceiveOfType when the received
// message carries a different type than the caller asked for. The payload is
// retained for diagnosis.
type UnexpectedTypeError struct {
	Expected int32
	Actual   int32
	Payload  []byte
}

func (e *UnexpectedTypeError) Error() string {
	return fmt.Sprintf("unexpected message type %d, want %d, payload %q",
		e.Actual, e.Expected, printableASCII(e.Payload))
}

// printableASCII renders b with non-printable bytes replaced by '.'.
func printableASCII(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c < 0x20 || c > 0x7e {
			out[i] = '.'
		} else {
			out[i] = c
		}
	}
	return string(out)
}
