// Package frame implements the length-prefixed framing used to talk to
// the manager over a local Unix stream socket: a 4-byte header
// (payload length, h1, h2) followed by the raw payload.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/silverline-wasm/runtime-core/internal/errs"
)

// chunkSize bounds a single body read, matching the original runtime's
// recv loop (it never asks the kernel for more than 4096 bytes of
// payload at a time). Writes are not chunked.
const chunkSize = 4096

// headerSize is the four raw bytes that precede every payload:
// payloadlen (u16le), h1, h2.
const headerSize = 4

// Message is one framed unit read from or written to the socket.
type Message struct {
	H1      byte
	H2      byte
	Payload []byte
}

// Conn is a framed connection to the manager.
type Conn struct {
	nc net.Conn
}

// SocketDir is the well-known directory the manager and its runtimes
// rendezvous under.
const SocketDir = "/tmp/sl"

// Addr returns the filesystem address for a runtime (module == -1) or
// per-module (module >= 0) socket.
func Addr(runtime, module int) string {
	if module == -1 {
		return filepath.Join(SocketDir, fmt.Sprintf("%02x.s", runtime))
	}
	return filepath.Join(SocketDir, fmt.Sprintf("%02x.%02x.s", runtime, module))
}

// Open connects to the manager socket for the given runtime index.
// module == -1 selects the runtime-level socket. Open never creates the
// socket — it fails if the manager has not already bound it.
func Open(runtime, module int) (*Conn, error) {
	addr := Addr(runtime, module)
	nc, err := net.Dial("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", errs.ErrTransport, addr, err)
	}
	return &Conn{nc: nc}, nil
}

// NewConn wraps an already-connected net.Conn (used by tests and by
// iteration children that inherit the manager fd across exec).
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc}
}

// Close releases the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// File returns a duplicated descriptor for the underlying connection,
// for a caller that needs to inherit the socket into a child process
// (e.g. via exec.Cmd.ExtraFiles). Only unix-domain connections support
// this; anything else is a programmer error since Open always dials
// "unix".
func (c *Conn) File() (*os.File, error) {
	uc, ok := c.nc.(*net.UnixConn)
	if !ok {
		return nil, fmt.Errorf("frame: underlying connection is not a unix socket (%T)", c.nc)
	}
	return uc.File()
}

// ReadMessage reads exactly one frame: the 4-byte header, then the
// declared payload length in chunkSize-bounded reads.
func (c *Conn) ReadMessage() (*Message, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(c.nc, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: read header: %w", errs.ErrTransport, err)
	}

	payloadLen := int(binary.LittleEndian.Uint16(hdr[0:2]))
	msg := &Message{H1: hdr[2], H2: hdr[3], Payload: make([]byte, payloadLen)}

	remaining := payloadLen
	head := msg.Payload
	for remaining > 0 {
		want := remaining
		if want > chunkSize {
			want = chunkSize
		}
		n, err := io.ReadFull(c.nc, head[:want])
		remaining -= n
		head = head[n:]
		if err != nil {
			return nil, fmt.Errorf("%w: read payload: %w", errs.ErrTransport, err)
		}
	}
	return msg, nil
}

// WriteMessage writes one frame. It loops until the header and the full
// body have been written, since a stream socket may return short writes
// under backpressure.
func (c *Conn) WriteMessage(h1, h2 byte, payload []byte) error {
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint16(hdr[0:2], uint16(len(payload)))
	hdr[2] = h1
	hdr[3] = h2

	if err := writeAll(c.nc, hdr[:]); err != nil {
		return fmt.Errorf("%w: write header: %w", errs.ErrTransport, err)
	}
	if err := writeAll(c.nc, payload); err != nil {
		return fmt.Errorf("%w: write payload: %w", errs.ErrTransport, err)
	}
	return nil
}

func writeAll(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}
