package access

import (
	"sort"
	"sync"
	"sync/atomic"
)

// sharedAccessEntry is the per-address bookkeeping for SharedTracker,
// grounded on acc_entry in access.cpp: a last-touching thread id, the
// set of instruction indices seen while the address was still
// unshared, an access count, a shared flag, and whether the most
// recent access was a write.
type sharedAccessEntry struct {
	mu              sync.Mutex
	lastTID         uint64
	instIdxs        map[uint32]struct{}
	freq            uint64
	shared          bool
	writeEncountered bool
}

// SharedTracker detects addresses touched by more than one guest
// thread. Once an address is marked shared, every instruction index
// that ever touched it (including the one that triggered sharing) is
// recorded in a single global set; addresses that stay single-threaded
// keep their own private instruction-index set instead.
type SharedTracker struct {
	table *addrTable[sharedAccessEntry]

	sharedMu       sync.Mutex
	sharedInstIdxs map[uint32]struct{}

	addrMin atomic.Uint32
	addrMax atomic.Uint32
}

// NewSharedTracker constructs an unintialized tracker; call Init
// before logging accesses.
func NewSharedTracker() *SharedTracker {
	return &SharedTracker{}
}

func (s *SharedTracker) Init(maxMemoryBytes uint32) error {
	s.table = newAddrTable[sharedAccessEntry]()
	s.sharedInstIdxs = make(map[uint32]struct{})
	s.addrMin.Store(^uint32(0))
	s.addrMax.Store(0)
	return nil
}

func (s *SharedTracker) LogStart(maxInstructions uint32) {}

// LogAccess mirrors access.cpp's logaccess_wrapper exactly: the
// per-entry mutex is held across the whole decision tree, and only
// when an address transitions from unshared to shared is the unshared
// set merged into the global shared set (then dropped, to bound
// memory on long-running unshared addresses).
func (s *SharedTracker) LogAccess(tid uint64, addr uint32, opcode uint32, instIdx uint32) {
	info := OpcodeAccess(opcode)
	isWrite := info.Type == AccessStore

	entry := s.table.entry(addr, func() *sharedAccessEntry { return &sharedAccessEntry{} })

	entry.mu.Lock()
	newTIDAccess := tid != entry.lastTID
	switch {
	case entry.lastTID == 0:
		// First touch: start a private instruction set.
		entry.instIdxs = map[uint32]struct{}{instIdx: {}}
	case entry.shared:
		// Already shared: every subsequent instruction index that
		// touches this address joins the global set directly.
		s.sharedMu.Lock()
		s.sharedInstIdxs[instIdx] = struct{}{}
		s.sharedMu.Unlock()
	case newTIDAccess:
		// Transition to shared: publish the accumulated private set
		// plus this access, then drop the private set.
		entry.shared = true
		s.sharedMu.Lock()
		for idx := range entry.instIdxs {
			s.sharedInstIdxs[idx] = struct{}{}
		}
		s.sharedInstIdxs[instIdx] = struct{}{}
		s.sharedMu.Unlock()
		entry.instIdxs = nil
	default:
		// Same thread as last time, still unshared: keep logging.
		entry.instIdxs[instIdx] = struct{}{}
	}
	entry.lastTID = tid
	entry.freq++
	entry.writeEncountered = isWrite
	entry.mu.Unlock()

	atomicMin(&s.addrMin, addr)
	atomicMax(&s.addrMax, addr)
}

func atomicMin(v *atomic.Uint32, candidate uint32) {
	for {
		cur := v.Load()
		if candidate >= cur {
			return
		}
		if v.CompareAndSwap(cur, candidate) {
			return
		}
	}
}

func atomicMax(v *atomic.Uint32, candidate uint32) {
	for {
		cur := v.Load()
		if candidate <= cur {
			return
		}
		if v.CompareAndSwap(cur, candidate) {
			return
		}
	}
}

func (s *SharedTracker) LogEnd() {}

// CollectProfile serializes, after prefix: a u32 count and the shared
// instruction indices, a u32 count and the shared addresses, then one
// partial record {u32 addr, u64 last_tid, u8 write, u32 count, u32
// indices} per unshared address that was ever touched. Both index
// lists, the per-record indices and the partial records are emitted in
// ascending order.
func (s *SharedTracker) CollectProfile(prefix []byte) ([]byte, error) {
	sharedAddrs := make([]uint32, 0)
	type partial struct {
		addr             uint32
		lastTID          uint64
		writeEncountered bool
		instIdxs         []uint32
	}
	var partials []partial

	s.table.forEach(func(addr uint32, e *sharedAccessEntry) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.lastTID == 0 {
			return
		}
		if e.shared {
			sharedAddrs = append(sharedAddrs, addr)
			return
		}
		idxs := make([]uint32, 0, len(e.instIdxs))
		for idx := range e.instIdxs {
			idxs = append(idxs, idx)
		}
		sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
		partials = append(partials, partial{
			addr:             addr,
			lastTID:          e.lastTID,
			writeEncountered: e.writeEncountered,
			instIdxs:         idxs,
		})
	})
	sort.Slice(sharedAddrs, func(i, j int) bool { return sharedAddrs[i] < sharedAddrs[j] })
	sort.Slice(partials, func(i, j int) bool { return partials[i].addr < partials[j].addr })

	s.sharedMu.Lock()
	sharedInstIdxs := make([]uint32, 0, len(s.sharedInstIdxs))
	for idx := range s.sharedInstIdxs {
		sharedInstIdxs = append(sharedInstIdxs, idx)
	}
	s.sharedMu.Unlock()
	sort.Slice(sharedInstIdxs, func(i, j int) bool { return sharedInstIdxs[i] < sharedInstIdxs[j] })

	buf := make([]byte, 0, len(prefix)+64)
	buf = append(buf, prefix...)

	buf = u32w(buf, uint32(len(sharedInstIdxs)))
	for _, idx := range sharedInstIdxs {
		buf = u32w(buf, idx)
	}

	buf = u32w(buf, uint32(len(sharedAddrs)))
	for _, addr := range sharedAddrs {
		buf = u32w(buf, addr)
	}

	for _, p := range partials {
		buf = u32w(buf, p.addr)
		buf = u64w(buf, p.lastTID)
		if p.writeEncountered {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		buf = u32w(buf, uint32(len(p.instIdxs)))
		for _, idx := range p.instIdxs {
			buf = u32w(buf, idx)
		}
	}

	return buf, nil
}

func (s *SharedTracker) Destroy() error {
	s.table = nil
	s.sharedInstIdxs = nil
	return nil
}

// AddrRange reports the approximate [min, max] addresses touched so far.
func (s *SharedTracker) AddrRange() (min, max uint32) {
	return s.addrMin.Load(), s.addrMax.Load()
}
