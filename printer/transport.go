package printer

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Transport is the byte link to a printer. Read may return (0, nil) when no
// reply arrived within the link's poll interval.
type Transport interface {
	Write([]byte) (int, error)
	Read([]byte) (int, error)
	Close() error
}

// -------------------- RAW --------------------

// RawTransport passes bytes straight through to conn.
type RawTransport struct {
	conn io.ReadWriteCloser
}

func (r *RawTransport) Write(b []byte) (int, error) { return r.conn.Write(b) }
func (r *RawTransport) Read(b []byte) (int, error)  { return r.conn.Read(b) }
func (r *RawTransport) Close() error                { return r.conn.Close() }

// -------------------- TCP --------------------

// defaultPollInterval bounds a single Read on links that would otherwise
// block, so callers waiting for replies can observe their context.
const defaultPollInterval = 100 * time.Millisecond

// pollConn gives a net.Conn the same read-timeout behaviour as a serial port:
// a Read that times out returns (0, nil).
type pollConn struct {
	net.Conn
	interval time.Duration
}

func (c *pollConn) Read(b []byte) (int, error) {
	if err := c.SetReadDeadline(time.Now().Add(c.interval)); err != nil {
		return 0, err
	}
	n, err := c.Conn.Read(b)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return n, nil
	}
	return n, err
}

// NewNetworkPrinter connects to a raw socket print server such as a
// serial-to-TCP bridge listening on port 9100.
func NewNetworkPrinter(addr string, timeout time.Duration) (*Printer, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial printer %s: %w", addr, err)
	}
	return NewPrinter(&pollConn{Conn: conn, interval: defaultPollInterval})
}

// -------------------- helpers --------------------

type nopCloser struct {
	io.ReadWriter
}

func (n nopCloser) Close() error { return nil }

// writeAll keeps writing until b is consumed, since serial and USB writes
// may be partial.
func writeAll(w io.Writer, b []byte) error {
	for sent := 0; sent < len(b); {
		n, err := w.Write(b[sent:])
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		sent += n
	}
	return nil
}
