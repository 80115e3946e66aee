package access

// AccessType classifies what a memory-access opcode does.
type AccessType uint8

const (
	AccessNone AccessType = iota
	AccessLoad
	AccessStore
)

// Atomicity designates whether an opcode is a WASM atomic operation.
type Atomicity uint8

const (
	Atomic Atomicity = iota
	NonAtomic
)

// OpcodeInfo is the static per-opcode contract consumed by both
// SharedTracker and TsvdProbe.
type OpcodeInfo struct {
	Mnemonic  string
	Type      AccessType
	Width     uint8
	Atomicity Atomicity
}

// Opcode numbering used by the instrumentation rewriter. These mirror
// the plain and atomic memory-access instructions defined by the
// WebAssembly core and threads specs; every other opcode the rewriter
// might pass through (any value >= opcodeTableLen) maps to AccessNone
// via the bounds check in OpcodeAccess.
const (
	OpI32Load uint32 = iota
	OpI64Load
	OpF32Load
	OpF64Load
	OpI32Load8S
	OpI32Load8U
	OpI32Load16S
	OpI32Load16U
	OpI64Load8S
	OpI64Load8U
	OpI64Load16S
	OpI64Load16U
	OpI64Load32S
	OpI64Load32U
	OpI32Store
	OpI64Store
	OpF32Store
	OpF64Store
	OpI32Store8
	OpI32Store16
	OpI64Store8
	OpI64Store16
	OpI64Store32

	OpI32AtomicLoad
	OpI64AtomicLoad
	OpI32AtomicLoad8U
	OpI32AtomicLoad16U
	OpI64AtomicLoad8U
	OpI64AtomicLoad16U
	OpI64AtomicLoad32U
	OpI32AtomicStore
	OpI64AtomicStore
	OpI32AtomicStore8
	OpI32AtomicStore16
	OpI64AtomicStore8
	OpI64AtomicStore16
	OpI64AtomicStore32
	OpI32AtomicRmwAdd
	OpI64AtomicRmwAdd

	opcodeTableLen
)

var opcodeTable = [opcodeTableLen]OpcodeInfo{
	OpI32Load:      {"i32.load", AccessLoad, 4, NonAtomic},
	OpI64Load:      {"i64.load", AccessLoad, 8, NonAtomic},
	OpF32Load:      {"f32.load", AccessLoad, 4, NonAtomic},
	OpF64Load:      {"f64.load", AccessLoad, 8, NonAtomic},
	OpI32Load8S:    {"i32.load8_s", AccessLoad, 1, NonAtomic},
	OpI32Load8U:    {"i32.load8_u", AccessLoad, 1, NonAtomic},
	OpI32Load16S:   {"i32.load16_s", AccessLoad, 2, NonAtomic},
	OpI32Load16U:   {"i32.load16_u", AccessLoad, 2, NonAtomic},
	OpI64Load8S:    {"i64.load8_s", AccessLoad, 1, NonAtomic},
	OpI64Load8U:    {"i64.load8_u", AccessLoad, 1, NonAtomic},
	OpI64Load16S:   {"i64.load16_s", AccessLoad, 2, NonAtomic},
	OpI64Load16U:   {"i64.load16_u", AccessLoad, 2, NonAtomic},
	OpI64Load32S:   {"i64.load32_s", AccessLoad, 4, NonAtomic},
	OpI64Load32U:   {"i64.load32_u", AccessLoad, 4, NonAtomic},
	OpI32Store:     {"i32.store", AccessStore, 4, NonAtomic},
	OpI64Store:     {"i64.store", AccessStore, 8, NonAtomic},
	OpF32Store:     {"f32.store", AccessStore, 4, NonAtomic},
	OpF64Store:     {"f64.store", AccessStore, 8, NonAtomic},
	OpI32Store8:    {"i32.store8", AccessStore, 1, NonAtomic},
	OpI32Store16:   {"i32.store16", AccessStore, 2, NonAtomic},
	OpI64Store8:    {"i64.store8", AccessStore, 1, NonAtomic},
	OpI64Store16:   {"i64.store16", AccessStore, 2, NonAtomic},
	OpI64Store32:   {"i64.store32", AccessStore, 4, NonAtomic},

	OpI32AtomicLoad:     {"i32.atomic.load", AccessLoad, 4, Atomic},
	OpI64AtomicLoad:     {"i64.atomic.load", AccessLoad, 8, Atomic},
	OpI32AtomicLoad8U:   {"i32.atomic.load8_u", AccessLoad, 1, Atomic},
	OpI32AtomicLoad16U:  {"i32.atomic.load16_u", AccessLoad, 2, Atomic},
	OpI64AtomicLoad8U:   {"i64.atomic.load8_u", AccessLoad, 1, Atomic},
	OpI64AtomicLoad16U:  {"i64.atomic.load16_u", AccessLoad, 2, Atomic},
	OpI64AtomicLoad32U:  {"i64.atomic.load32_u", AccessLoad, 4, Atomic},
	OpI32AtomicStore:    {"i32.atomic.store", AccessStore, 4, Atomic},
	OpI64AtomicStore:    {"i64.atomic.store", AccessStore, 8, Atomic},
	OpI32AtomicStore8:   {"i32.atomic.store8", AccessStore, 1, Atomic},
	OpI32AtomicStore16:  {"i32.atomic.store16", AccessStore, 2, Atomic},
	OpI64AtomicStore8:   {"i64.atomic.store8", AccessStore, 1, Atomic},
	OpI64AtomicStore16:  {"i64.atomic.store16", AccessStore, 2, Atomic},
	OpI64AtomicStore32:  {"i64.atomic.store32", AccessStore, 4, Atomic},
	OpI32AtomicRmwAdd:   {"i32.atomic.rmw.add", AccessStore, 4, Atomic},
	OpI64AtomicRmwAdd:   {"i64.atomic.rmw.add", AccessStore, 8, Atomic},
}

// OpcodeAccess returns the static access info for a rewriter-assigned
// opcode. Opcodes the table doesn't know about report AccessNone — the
// rewriter only ever instruments instructions it recognizes, so this is
// a defensive default rather than a case the core expects to hit.
func OpcodeAccess(opcode uint32) OpcodeInfo {
	if opcode >= uint32(opcodeTableLen) {
		return OpcodeInfo{Mnemonic: "unknown", Type: AccessNone}
	}
	return opcodeTable[opcode]
}
