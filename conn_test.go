package framed

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestTCPPair creates a connected pair of TCP connections for testing.
func createTestTCPPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()

	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err, "failed to create listener")
	defer listener.Close()

	clientChan := make(chan *net.TCPConn, 1)
	errChan := make(chan error, 1)
	go func() {
		conn, err := net.DialTCP("tcp", nil, listener.Addr().(*net.TCPAddr))
		if err != nil {
			errChan <- err
			return
		}
		clientChan <- conn
	}()

	serverConn, err := listener.AcceptTCP()
	require.NoError(t, err, "failed to accept")

	select {
	case clientConn := <-clientChan:
		return serverConn, clientConn
	case err := <-errChan:
		serverConn.Close()
		t.Fatalf("client dial failed: %v", err)
		return nil, nil
	case <-time.After(5 * time.Second):
		serverConn.Close()
		t.Fatal("timeout waiting for client connection")
		return nil, nil
	}
}

// createConnPair wraps both ends of a TCP pair in *Conn. The options apply
// to the first (server-side) connection only.
func createConnPair(t *testing.T, opt ...Option) (*Conn, *Conn) {
	t.Helper()

	serverConn, clientConn := createTestTCPPair(t)
	server := NewConn(serverConn, opt...)
	client := NewConn(clientConn)
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return server, client
}

type receiveResult struct {
	msgType int32
	payload []byte
	err     error
}

// receiveAsync runs conn.Receive on its own goroutine so tests can bound
// blocking receives with a timeout.
func receiveAsync(conn *Conn) <-chan receiveResult {
	ch := make(chan receiveResult, 1)
	go func() {
		msgType, payload, err := conn.Receive()
		ch <- receiveResult{msgType: msgType, payload: payload, err: err}
	}()
	return ch
}

func waitReceive(t *testing.T, ch <-chan receiveResult) receiveResult {
	t.Helper()

	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for receive")
		return receiveResult{}
	}
}

func TestConn_SendReceive(t *testing.T) {
	server, client := createConnPair(t)

	ch := receiveAsync(server)
	require.NoError(t, client.Send(7, []byte("hello")))

	res := waitReceive(t, ch)
	require.NoError(t, res.err)
	assert.Equal(t, int32(7), res.msgType)
	assert.Equal(t, []byte("hello"), res.payload)
}

func TestConn_SendReceive_Ordering(t *testing.T) {
	server, client := createConnPair(t)

	for i := int32(0); i < 10; i++ {
		require.NoError(t, client.Send(i, []byte{byte(i)}))
	}

	for i := int32(0); i < 10; i++ {
		res := waitReceive(t, receiveAsync(server))
		require.NoError(t, res.err)
		assert.Equal(t, i, res.msgType)
		assert.Equal(t, []byte{byte(i)}, res.payload)
	}
}

func TestConn_ChunkedDelivery(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer clientConn.Close()

	server := NewConn(serverConn)
	defer server.Close()

	frame := EncodeMessage(13, []byte("fragmented message body"))
	go func() {
		// One byte per write; the accumulation loop has to reassemble.
		for i := range frame {
			if _, err := clientConn.Write(frame[i : i+1]); err != nil {
				return
			}
		}
	}()

	res := waitReceive(t, receiveAsync(server))
	require.NoError(t, res.err)
	assert.Equal(t, int32(13), res.msgType)
	assert.Equal(t, []byte("fragmented message body"), res.payload)
}

func TestConn_EmptyPayload(t *testing.T) {
	server, client := createConnPair(t)

	ch := receiveAsync(server)
	require.NoError(t, client.Send(3, nil))

	res := waitReceive(t, ch)
	require.NoError(t, res.err)
	assert.Equal(t, int32(3), res.msgType)
	assert.Empty(t, res.payload)
}

func TestConn_OrderlyCloseMidMessage(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)

	server := NewConn(serverConn)
	defer server.Close()

	// Six bytes of a frame that declares more, then an orderly close.
	frame := EncodeMessage(1, []byte("never arrives"))
	_, err := clientConn.Write(frame[:6])
	require.NoError(t, err)
	require.NoError(t, clientConn.Close())

	res := waitReceive(t, receiveAsync(server))
	require.ErrorIs(t, res.err, ErrConnectionEnded)
}

func TestConn_OrderlyCloseBeforeMessage(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)

	server := NewConn(serverConn)
	defer server.Close()

	require.NoError(t, clientConn.Close())

	res := waitReceive(t, receiveAsync(server))
	require.ErrorIs(t, res.err, ErrConnectionEnded)
}

func TestConn_OrderlyCloseTruncatedPayload(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)

	server := NewConn(serverConn)
	defer server.Close()

	// Full header, half the payload.
	frame := EncodeMessage(1, []byte("half delivered"))
	_, err := clientConn.Write(frame[:HeaderSize+7])
	require.NoError(t, err)
	require.NoError(t, clientConn.Close())

	res := waitReceive(t, receiveAsync(server))
	require.ErrorIs(t, res.err, ErrConnectionEnded)
}

func TestConn_ReceiveOfType(t *testing.T) {
	server, client := createConnPair(t)

	require.NoError(t, client.Send(5, []byte("expected")))

	payload, err := server.ReceiveOfType(5)
	require.NoError(t, err)
	assert.Equal(t, []byte("expected"), payload)
}

func TestConn_ReceiveOfType_Mismatch(t *testing.T) {
	server, client := createConnPair(t)

	require.NoError(t, client.Send(7, []byte("wrong type")))

	_, err := server.ReceiveOfType(5)
	require.Error(t, err)

	var typeErr *UnexpectedTypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, int32(5), typeErr.Expected)
	assert.Equal(t, int32(7), typeErr.Actual)
	assert.Equal(t, []byte("wrong type"), typeErr.Payload)
}

func TestConn_MaxMessageSize(t *testing.T) {
	server, client := createConnPair(t, MaxMessageSizeOption(16))

	require.NoError(t, client.Send(1, make([]byte, 64)))

	res := waitReceive(t, receiveAsync(server))
	require.ErrorIs(t, res.err, ErrMessageTooLarge)
}

func TestConn_MaxMessageSize_AtLimit(t *testing.T) {
	server, client := createConnPair(t, MaxMessageSizeOption(16))

	require.NoError(t, client.Send(1, make([]byte, 16)))

	res := waitReceive(t, receiveAsync(server))
	require.NoError(t, res.err)
	assert.Len(t, res.payload, 16)
}

func TestConn_Strings(t *testing.T) {
	server, client := createConnPair(t)

	require.NoError(t, client.SendString(42, "Hello server!"))

	text, err := server.ReceiveStringOfType(42)
	require.NoError(t, err)
	assert.Equal(t, "Hello server!", text)

	require.NoError(t, client.SendString(8, "more text"))

	msgType, text, err := server.ReceiveString()
	require.NoError(t, err)
	assert.Equal(t, int32(8), msgType)
	assert.Equal(t, "more text", text)
}

func TestConn_Close_Idempotent(t *testing.T) {
	server, _ := createConnPair(t)

	require.NoError(t, server.Close())
	require.NoError(t, server.Close())
	assert.True(t, server.IsClosed())
}

func TestConn_SendOnClosed(t *testing.T) {
	server, _ := createConnPair(t)

	require.NoError(t, server.Close())
	require.ErrorIs(t, server.Send(1, []byte("late")), ErrConnectionClosed)
}

func TestConn_ReceiveOnClosed(t *testing.T) {
	server, _ := createConnPair(t)

	require.NoError(t, server.Close())
	_, _, err := server.Receive()
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func TestConn_PeerReset_IsGenericFault(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)

	server := NewConn(serverConn)
	defer server.Close()

	ch := receiveAsync(server)

	// Closing the receiving side under a blocked Receive is a transport
	// fault, not an orderly end of the stream.
	time.Sleep(50 * time.Millisecond)
	serverConn.Close()
	clientConn.Close()

	res := waitReceive(t, ch)
	require.Error(t, res.err)
	assert.NotErrorIs(t, res.err, ErrConnectionEnded)
}

func TestConn_Addrs(t *testing.T) {
	server, client := createConnPair(t)

	assert.NotNil(t, server.RemoteAddr())
	assert.NotNil(t, server.LocalAddr())
	assert.Equal(t, server.RemoteAddr().String(), client.LocalAddr().String())
}

func TestDial(t *testing.T) {
	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer listener.Close()

	acceptCh := make(chan *net.TCPConn, 1)
	go func() {
		conn, err := listener.AcceptTCP()
		if err != nil {
			return
		}
		acceptCh <- conn
	}()

	client, err := Dial(listener.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	select {
	case serverConn := <-acceptCh:
		server := NewConn(serverConn)
		defer server.Close()

		require.NoError(t, client.Send(2, []byte("dialed")))
		res := waitReceive(t, receiveAsync(server))
		require.NoError(t, res.err)
		assert.Equal(t, int32(2), res.msgType)
		assert.Equal(t, []byte("dialed"), res.payload)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for accept")
	}
}

func TestDial_Refused(t *testing.T) {
	// Bind then close to get an address nothing is listening on.
	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	_, err = Dial(addr)
	require.Error(t, err)
}
