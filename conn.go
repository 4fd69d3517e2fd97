package framed

import (
	"io"
	"math"
	"net"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Conn wraps one established stream connection and exchanges whole framed
// messages over it. Send and Receive operate on disjoint directions of the
// stream and may run concurrently with each other, but concurrent Sends or
// concurrent Receives must be serialized by the caller.
type Conn struct {
	rawConn net.Conn
	logger  Logger

	opts   options
	closed atomic.Bool
}

// Dial connects to a framed-message server at the given "host:port" address.
// Transport write coalescing is disabled so small messages are sent
// immediately rather than held back for batching.
func Dial(addr string, opt ...Option) (*Conn, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", addr)
	}

	conn, err := net.DialTCP("tcp", nil, tcpAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}

	return NewConn(conn, opt...), nil
}

// NewConn wraps an existing stream connection. The server uses it for
// accepted connections; it also accepts any net.Conn so in-process pipes can
// stand in for TCP. When the connection is a *net.TCPConn, Nagle's algorithm
// is disabled.
func NewConn(conn net.Conn, opt ...Option) *Conn {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	opts.logger.Debug("connection ready", "remote_addr", conn.RemoteAddr())

	return &Conn{
		rawConn: conn,
		logger:  opts.logger,
		opts:    opts,
	}
}

// Send writes one framed message to the connection. A nil payload is sent as
// an empty one. The message is either fully handed to the transport or an
// error is returned; partial delivery is never reported as success.
func (c *Conn) Send(msgType int32, payload []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	if len(payload) > math.MaxInt32 {
		return errors.Wrapf(ErrMessageTooLarge,
			"payload of %d bytes does not fit the length field", len(payload))
	}

	if _, err := c.rawConn.Write(EncodeMessage(msgType, payload)); err != nil {
		return errors.Wrap(err, "write message")
	}

	return nil
}

// SendString sends text as a UTF-8 encoded payload under the given type.
func (c *Conn) SendString(msgType int32, text string) error {
	return c.Send(msgType, []byte(text))
}

// Receive blocks until one complete message has been read from the
// connection and returns its type and payload. If the peer closes its side
// before a full message arrives, Receive returns ErrConnectionEnded. A
// declared payload length above the configured maximum fails with
// ErrMessageTooLarge before any payload buffer is allocated.
func (c *Conn) Receive() (int32, []byte, error) {
	if c.closed.Load() {
		return 0, nil, ErrConnectionClosed
	}

	var header [HeaderSize]byte
	if err := c.readFull(header[:4]); err != nil {
		return 0, nil, err
	}
	if err := c.readFull(header[4:]); err != nil {
		return 0, nil, err
	}

	length, msgType := DecodeHeader(header[:])
	if uint64(length) > uint64(c.opts.maxMessageSize) {
		return 0, nil, errors.Wrapf(ErrMessageTooLarge,
			"declared payload of %d bytes exceeds the %d byte limit", length, c.opts.maxMessageSize)
	}

	payload := make([]byte, length)
	if err := c.readFull(payload); err != nil {
		return 0, nil, err
	}

	return msgType, payload, nil
}

// ReceiveOfType receives one message and returns its payload, failing with
// an *UnexpectedTypeError if the message does not carry the expected type.
func (c *Conn) ReceiveOfType(expected int32) ([]byte, error) {
	msgType, payload, err := c.Receive()
	if err != nil {
		return nil, err
	}

	if msgType != expected {
		return nil, &UnexpectedTypeError{Expected: expected, Actual: msgType, Payload: payload}
	}

	return payload, nil
}

// ReceiveString receives one message and returns its payload as a UTF-8 string.
func (c *Conn) ReceiveString() (int32, string, error) {
	msgType, payload, err := c.Receive()
	if err != nil {
		return 0, "", err
	}
	return msgType, string(payload), nil
}

// ReceiveStringOfType receives one message of the expected type and returns
// its payload as a UTF-8 string.
func (c *Conn) ReceiveStringOfType(expected int32) (string, error) {
	payload, err := c.ReceiveOfType(expected)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// Close closes the underlying connection. Safe to call multiple times; a
// blocked Send or Receive on another goroutine fails once the connection is
// closed under it.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}

	c.logger.Debug("connection closed", "remote_addr", c.rawConn.RemoteAddr())
	return c.rawConn.Close()
}

// IsClosed returns true if Close has been called on this connection.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// RemoteAddr returns the remote address of the connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.rawConn.RemoteAddr()
}

// LocalAddr returns the local address of the connection.
func (c *Conn) LocalAddr() net.Addr {
	return c.rawConn.LocalAddr()
}

// readFull reads exactly len(buf) bytes from the connection, looping over
// partial reads until the buffer is full. A zero-length buffer returns
// immediately without touching the connection. An orderly close by the peer
// before the buffer is full yields ErrConnectionEnded; every other transport
// failure is wrapped and returned as-is.
func (c *Conn) readFull(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}

	var total int
	for total < len(buf) {
		n, err := c.rawConn.Read(buf[total:])
		total += n

		if total > len(buf) {
			// Unreachable with correctly sized reads; a broken accumulation
			// loop must surface as a fault, not as silent corruption.
			return errors.Errorf("read %d bytes into a %d byte buffer", total, len(buf))
		}

		if total == len(buf) {
			return nil
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.Wrapf(ErrConnectionEnded,
					"after %d of %d bytes", total, len(buf))
			}
			return errors.Wrap(err, "read from connection")
		}
	}

	return nil
}
