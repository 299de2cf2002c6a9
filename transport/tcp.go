package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/gabriel2392/brokkr/core"
)

// TcpTransport wraps a plain net.Conn (NewTcpTransport enables TCP_NODELAY
// on it), adding the retry/timeout discipline every Transport needs.
// Grounded on original_source/src/platform/linux/tcp_transport.cpp.
type TcpTransport struct {
	conn    net.Conn
	timeout time.Duration
}

// NewTcpTransport wraps an already-accepted or dialed connection.
func NewTcpTransport(conn net.Conn) *TcpTransport {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &TcpTransport{conn: conn, timeout: time.Second}
}

func (t *TcpTransport) Kind() Kind               { return TcpStream }
func (t *TcpTransport) Connected() bool           { return t.conn != nil }
func (t *TcpTransport) SetTimeout(d time.Duration) { t.timeout = d }
func (t *TcpTransport) Timeout() time.Duration     { return t.timeout }
func (t *TcpTransport) Close() error               { return t.conn.Close() }

// Send writes all of data, looping on short writes and retrying on timeout
// up to retries times with a 10ms backoff — mirroring tcp_transport.cpp's
// send() loop (EINTR retried immediately is not representable over net.Conn,
// which already absorbs it).
func (t *TcpTransport) Send(data []byte, retries uint) (int, error) {
	sent := 0
	for sent < len(data) {
		t.conn.SetWriteDeadline(time.Now().Add(t.timeout))
		n, err := t.conn.Write(data[sent:])
		sent += n
		if err == nil {
			continue
		}
		if n == 0 && isTimeout(err) {
			if retries == 0 {
				return sent, fmt.Errorf("%w: tcp send timeout", core.ErrIO)
			}
			retries--
			time.Sleep(10 * time.Millisecond)
			continue
		}
		return sent, fmt.Errorf("%w: tcp send: %v", core.ErrIO, err)
	}
	return sent, nil
}

// Recv issues a single read per attempt and returns as soon as any positive
// count arrives, matching tcp_transport.cpp's "a positive return is returned
// as-is" behavior (no partial-accumulation loop, unlike Send).
func (t *TcpTransport) Recv(data []byte, retries uint) (int, error) {
	for {
		t.conn.SetReadDeadline(time.Now().Add(t.timeout))
		n, err := t.conn.Read(data)
		if n > 0 {
			return n, nil
		}
		if err == nil {
			continue
		}
		if isTimeout(err) && retries > 0 {
			retries--
			time.Sleep(10 * time.Millisecond)
			continue
		}
		return 0, fmt.Errorf("%w: tcp recv: %v", core.ErrIO, err)
	}
}

// RecvZLP is a no-op on TCP; there is no packet-level ZLP concept over a
// byte stream ("ghost func when operating over tcp").
func (t *TcpTransport) RecvZLP(retries uint) error { return nil }

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// TcpListener binds an IPv4 listener on the standard Odin wireless port.
type TcpListener struct {
	ln net.Listener
}

// BindAndListen binds bindIP:port with the given backlog (net.Listen
// manages the backlog internally; the parameter is accepted for symmetry
// with original_source's bind_and_listen).
func BindAndListen(bindIP string, port int, backlog int) (*TcpListener, error) {
	ln, err := net.Listen("tcp4", fmt.Sprintf("%s:%d", bindIP, port))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	return &TcpListener{ln: ln}, nil
}

// AcceptOne accepts a single connection and wraps it as a Transport.
func (l *TcpListener) AcceptOne() (*TcpTransport, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	return NewTcpTransport(conn), nil
}

func (l *TcpListener) Close() error { return l.ln.Close() }
