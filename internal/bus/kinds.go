package bus

// HControl is the high bit of h1: set on every message the runtime
// receives from the manager, clear on every message it sends.
const HControl byte = 0x80

// ModuleIndexMask extracts the low seven bits of h1 (the module index a
// message pertains to, or 0 for runtime-scoped messages).
const ModuleIndexMask byte = 0x7f

// Outbound (runtime -> manager) message kinds.
const (
	KindKeepalive  byte = 0x00
	KindLogRuntime byte = 0x01
	KindExited     byte = 0x02
	KindChanOpen   byte = 0x03
	KindChanClose  byte = 0x04
	KindLogModule  byte = 0x05
	KindProfile    byte = 0x06
)

// Inbound (manager -> runtime) control message kinds. These share
// numeric values with the outbound kinds above but are only ever seen
// with HControl set in h1, so the two tables never collide in practice.
const (
	KindCreate byte = 0x00
	KindDelete byte = 0x01
	KindStop   byte = 0x02
)

// LogLevel is the syslog-style numeric level carried as the first byte
// of a LOG_RUNTIME payload.
type LogLevel byte

const (
	LevelDebug    LogLevel = 10
	LevelInfo     LogLevel = 20
	LevelWarning  LogLevel = 30
	LevelError    LogLevel = 40
	LevelCritical LogLevel = 50
)

// ChannelDirection is the first byte of a CH_OPEN name field.
type ChannelDirection byte

const (
	ChannelReadOnly  ChannelDirection = 0
	ChannelWriteOnly ChannelDirection = 1
	ChannelReadWrite ChannelDirection = 2
)

// QoSLevel is the second byte of a CH_OPEN name field.
type QoSLevel byte

const (
	QoS0 QoSLevel = 0
	QoS1 QoSLevel = 1
	QoS2 QoSLevel = 2
)
