// Package transport defines the byte-pipe abstraction the Odin wire
// protocol is built on top of, and its two concrete implementations: bulk
// USB (Linux usbfs) and TCP.
package transport

import "time"

// Kind identifies which concrete transport a session is using; the Odin
// layer consults it only to gate USB-only handshake/ZLP behavior.
type Kind int

const (
	UsbBulk Kind = iota
	TcpStream
)

// Transport is a uniform, retrying, timeout-bounded byte pipe.
type Transport interface {
	Kind() Kind
	Connected() bool
	SetTimeout(d time.Duration)
	Timeout() time.Duration

	// Send writes all of data, retrying transient failures up to retries
	// times. It returns the number of bytes written.
	Send(data []byte, retries uint) (int, error)

	// Recv reads up to len(data) bytes into data, retrying transient
	// failures up to retries times. A short read is not itself an error.
	Recv(data []byte, retries uint) (int, error)

	// RecvZLP drains a single trailing zero-length packet on USB; it is a
	// no-op that always succeeds on TCP ("ghost func when operating over
	// tcp", per original_source).
	RecvZLP(retries uint) error

	Close() error
}
