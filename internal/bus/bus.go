// Package bus layers the manager's typed message kinds on top of
// internal/frame's raw length-prefixed frames.
package bus

import (
	"fmt"

	"github.com/silverline-wasm/runtime-core/internal/frame"
)

// Bus is a manager connection scoped to one module index (0 for the
// runtime-level socket).
type Bus struct {
	conn        *frame.Conn
	moduleIndex byte
}

// New wraps a framed connection. moduleIndex is encoded into h1's low
// seven bits on every outbound frame.
func New(conn *frame.Conn, moduleIndex int) *Bus {
	return &Bus{conn: conn, moduleIndex: byte(moduleIndex) & ModuleIndexMask}
}

func (b *Bus) send(kind byte, payload []byte) error {
	return b.conn.WriteMessage(b.moduleIndex, kind, payload)
}

// SendKeepalive sends an empty keepalive frame.
func (b *Bus) SendKeepalive() error {
	return b.send(KindKeepalive, nil)
}

// SendLogRuntime sends a runtime-scoped log line; level is the
// syslog-style numeric convention from §6, text must not contain a
// trailing newline.
func (b *Bus) SendLogRuntime(level LogLevel, text string) error {
	payload := make([]byte, 1+len(text))
	payload[0] = byte(level)
	copy(payload[1:], text)
	return b.send(KindLogRuntime, payload)
}

// SendLogModule sends a module-scoped log line.
func (b *Bus) SendLogModule(text string) error {
	return b.send(KindLogModule, []byte(text))
}

// SendExited sends the fixed EXITED payload.
func (b *Bus) SendExited() error {
	return b.send(KindExited, []byte(`{"status": "exited"}`))
}

// ChannelOpen describes a CH_OPEN request.
type ChannelOpen struct {
	Direction ChannelDirection
	QoS       QoSLevel
	Name      string
}

// SendChannelOpen opens a named channel.
func (b *Bus) SendChannelOpen(c ChannelOpen) error {
	payload := make([]byte, 2+len(c.Name))
	payload[0] = byte(c.Direction)
	payload[1] = byte(c.QoS)
	copy(payload[2:], c.Name)
	return b.send(KindChanOpen, payload)
}

// SendChannelClose closes the current channel.
func (b *Bus) SendChannelClose() error {
	return b.send(KindChanClose, nil)
}

// SendProfile sends a binary profile payload.
func (b *Bus) SendProfile(data []byte) error {
	return b.send(KindProfile, data)
}

// ControlKind tags a decoded inbound control message.
type ControlKind int

const (
	ControlUnknown ControlKind = iota
	ControlCreate
	ControlDelete
	ControlStop
)

// Control is a decoded inbound control-bit message.
type Control struct {
	Kind        ControlKind
	ModuleIndex int
	Payload     []byte
}

// Recv blocks for the next frame and classifies it. Non-control frames
// (h1's high bit clear) are never sent to the runtime by a well-behaved
// manager; Recv still returns them with ControlUnknown so callers can
// log and drop per the Protocol error taxonomy.
func (b *Bus) Recv() (*Control, error) {
	msg, err := b.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("bus recv: %w", err)
	}
	c := &Control{
		ModuleIndex: int(msg.H1 & ModuleIndexMask),
		Payload:     msg.Payload,
	}
	if msg.H1&HControl == 0 {
		c.Kind = ControlUnknown
		return c, nil
	}
	switch msg.H2 {
	case KindCreate:
		c.Kind = ControlCreate
	case KindDelete:
		c.Kind = ControlDelete
	case KindStop:
		c.Kind = ControlStop
	default:
		c.Kind = ControlUnknown
	}
	return c, nil
}

// Close releases the underlying connection.
func (b *Bus) Close() error {
	return b.conn.Close()
}
