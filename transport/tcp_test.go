package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTcpTransportSendRecv(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan struct{})
	var serverErr error
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			serverErr = err
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		if _, err := io_ReadFull(conn, buf); err != nil {
			serverErr = err
			return
		}
		conn.Write(buf)
	}()

	conn, err := net.Dial("tcp4", ln.Addr().String())
	require.NoError(t, err)
	tr := NewTcpTransport(conn)
	tr.SetTimeout(2 * time.Second)
	defer tr.Close()

	n, err := tr.Send([]byte("hello"), 2)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, err = tr.Recv(buf, 2)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))

	<-serverDone
	require.NoError(t, serverErr)
}

func io_ReadFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
