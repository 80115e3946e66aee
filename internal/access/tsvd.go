package access

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/silverline-wasm/runtime-core/internal/errs"
)

// busySpinSink absorbs the spin loop's accumulated value so the
// compiler can't prove the loop is dead and elide it.
var busySpinSink atomic.Uint64

// accessRecord captures enough about one logged access to decide
// later whether it conflicts with another, grounded on tsvd.cpp's
// access_record. Records are never compared directly: violation-set
// deduplication goes through violationPair.key, which looks only at
// the two instruction indices.
type accessRecord struct {
	tid     uint64
	instIdx uint32
	opcode  uint32
	addr    uint32
}

// violationPair is an unordered pair of conflicting accesses. Two
// pairs are the same violation if they share the unordered pair of
// sites, matching tsvd.cpp's commutative hash/equality on
// AccessRecordPair.
type violationPair struct {
	first, second accessRecord
}

func (v violationPair) key() [2]uint32 {
	a, b := v.first.instIdx, v.second.instIdx
	if a > b {
		a, b = b, a
	}
	return [2]uint32{a, b}
}

// tsvdEntry is the per-address probe slot: an in-flight probe flag,
// a counter of cross-thread accesses observed while probed, and the
// single access record currently under probe.
type tsvdEntry struct {
	mu     sync.Mutex
	probed bool
	access accessRecord

	diffTIDConsec uint64
}

// TsvdProbe implements probe-and-delay conflict detection: the first
// access to an address arms a probe and busy-waits; any access landing
// inside that window from a different thread is compared against the
// probed access and recorded as a violation if at least one side is a
// store and at least one side is non-atomic.
type TsvdProbe struct {
	delayUnits uint32

	table *addrTable[tsvdEntry]

	violationMu sync.Mutex
	violations  map[[2]uint32]violationPair
}

// NewTsvdProbe constructs a prober that busy-waits delayUnits nop
// iterations per probe window.
func NewTsvdProbe(delayUnits uint32) *TsvdProbe {
	if delayUnits == 0 {
		delayUnits = 500
	}
	return &TsvdProbe{delayUnits: delayUnits}
}

func (t *TsvdProbe) Init(maxMemoryBytes uint32) error {
	t.table = newAddrTable[tsvdEntry]()
	t.violations = make(map[[2]uint32]violationPair)
	return nil
}

func (t *TsvdProbe) LogStart(maxInstructions uint32) {}

// LogAccess mirrors tsvd.cpp's logaccess_wrapper. The entry mutex is
// released before the busy-wait so a competing access can observe the
// probe without blocking on the delay itself — only the probe flag and
// stored access record are protected.
func (t *TsvdProbe) LogAccess(tid uint64, addr uint32, opcode uint32, instIdx uint32) {
	cur := accessRecord{tid: tid, instIdx: instIdx, opcode: opcode, addr: addr}
	entry := t.table.entry(addr, func() *tsvdEntry { return &tsvdEntry{} })

	entry.mu.Lock()
	wasProbed := entry.probed
	entry.probed = true
	if !wasProbed {
		entry.access = cur
		entry.mu.Unlock()
		busySpin(t.delayUnits)
		entry.mu.Lock()
		entry.probed = false
		entry.mu.Unlock()
		return
	}

	probedAccess := entry.access
	if cur.tid != probedAccess.tid {
		info1 := OpcodeAccess(probedAccess.opcode)
		info2 := OpcodeAccess(opcode)
		if (info1.Type == AccessStore || info2.Type == AccessStore) &&
			(info1.Atomicity == NonAtomic || info2.Atomicity == NonAtomic) {
			t.recordViolation(probedAccess, cur)
		}
		entry.diffTIDConsec++
	}
	entry.mu.Unlock()
}

func (t *TsvdProbe) recordViolation(a, b accessRecord) {
	v := violationPair{first: a, second: b}
	t.violationMu.Lock()
	defer t.violationMu.Unlock()
	if _, ok := t.violations[v.key()]; !ok {
		t.violations[v.key()] = v
	}
}

// busySpin executes a fixed number of no-op spin iterations rather
// than sleeping, to avoid a syscall in the probe window.
func busySpin(units uint32) {
	sink := uint64(0)
	for i := uint32(0); i < units; i++ {
		sink += uint64(i)
	}
	busySpinSink.Add(sink)
}

func (t *TsvdProbe) LogEnd() {}

// CollectProfile serializes the violation set as
// {addr, instidx_1, op_1, instidx_2, op_2} records per tsvd.cpp's
// profile_elem_t, after checking the invariant the source enforces
// before emitting each element: the two sides came from different
// threads and share an address. A violation breaking that invariant
// means the violation set was built from inconsistent bookkeeping, so
// collection fails outright rather than emitting a profile the manager
// would trust as complete.
func (t *TsvdProbe) CollectProfile(prefix []byte) ([]byte, error) {
	t.violationMu.Lock()
	pairs := make([]violationPair, 0, len(t.violations))
	for _, v := range t.violations {
		pairs = append(pairs, v)
	}
	t.violationMu.Unlock()

	sort.Slice(pairs, func(i, j int) bool {
		ki, kj := pairs[i].key(), pairs[j].key()
		if ki[0] != kj[0] {
			return ki[0] < kj[0]
		}
		return ki[1] < kj[1]
	})

	for _, v := range pairs {
		if v.first.tid == v.second.tid || v.first.addr != v.second.addr {
			return nil, fmt.Errorf("%w: violation pair at instidx %d/%d fails the same-address/different-thread invariant", errs.ErrInstrumentation, v.first.instIdx, v.second.instIdx)
		}
	}

	buf := make([]byte, 0, len(prefix)+4+20*len(pairs))
	buf = append(buf, prefix...)
	buf = u32w(buf, uint32(len(pairs)))
	for _, v := range pairs {
		buf = u32w(buf, v.first.addr)
		buf = u32w(buf, v.first.instIdx)
		buf = u32w(buf, v.first.opcode)
		buf = u32w(buf, v.second.instIdx)
		buf = u32w(buf, v.second.opcode)
	}
	return buf, nil
}

func (t *TsvdProbe) Destroy() error {
	t.table = nil
	t.violations = nil
	return nil
}
