// Package arena implements the bump allocator pair of spec §4.D: one
// native-side and one sandbox-side bump region per Instance, grown in
// fixed 64 KiB blocks the sandbox's own malloc never frees, with nested
// Scopes that either commit (promote to persistent) or drop (revert) a
// reversible allocation window.
//
// Grounded on original_source/source/wclap-arenas.h's ScopedReset /
// persist* vocabulary: a scope records the arena's position on entry and
// either restores it (drop) or leaves it advanced (commit).
package arena

import (
	"context"
	"fmt"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
)

// Caller is the minimal surface Arena needs from an Instance: allocate
// sandbox memory and write into it. Kept as an interface so arena does
// not import instance (avoiding an import cycle) while still being
// grounded in the same Instance type at call sites.
type Caller interface {
	Malloc(ctx context.Context, size uint32) (abi.Ptr, error)
	WriteMemory(p abi.Ptr, data []byte) error
	ReadMemory(p abi.Ptr, length uint32) ([]byte, error)
}

// block is one fixed-size allocation, native-side and sandbox-side.
type block struct {
	native      []byte
	sandboxBase abi.Ptr
	pos         uint32 // bump offset within this block, shared by native/sandbox views
}

func (b *block) remaining() uint32 { return abi.ArenaBlockBytes - b.pos }

// Arena is a bump allocator pair bound to one Instance. It is not safe
// for concurrent use; callers already serialize through the Instance
// lock.
type Arena struct {
	caller Caller
	blocks []*block
	cur    int // index into blocks of the block currently being filled
}

// New creates an empty Arena bound to caller. The first block is
// allocated lazily on first use.
func New(caller Caller) *Arena {
	return &Arena{caller: caller, cur: -1}
}

func (a *Arena) ensureBlock(ctx context.Context, need uint32) (*block, error) {
	if need > abi.ArenaBlockBytes {
		return nil, fmt.Errorf("arena: allocation of %d bytes exceeds block size %d", need, abi.ArenaBlockBytes)
	}
	if a.cur >= 0 && a.blocks[a.cur].remaining() >= need {
		return a.blocks[a.cur], nil
	}
	ptr, err := a.caller.Malloc(ctx, abi.ArenaBlockBytes)
	if err != nil {
		return nil, fmt.Errorf("arena: failed to grow block: %w", err)
	}
	b := &block{native: make([]byte, abi.ArenaBlockBytes), sandboxBase: ptr}
	a.blocks = append(a.blocks, b)
	a.cur = len(a.blocks) - 1
	return b, nil
}

// Scope is a reversible allocation window: a recorded position pair
// that Commit promotes to persistent and Drop reverts (spec §4.D,
// glossary "Arena scope").
type Scope struct {
	arena     *Arena
	blockIdx  int
	startPos  uint32
	committed bool
	dropped   bool
}

// OpenScope begins a new reversible allocation window. Nested scopes on
// the same Arena are only valid on the same logical call chain (spec
// §4.D); this package does not itself enforce that — the owning
// Instance's recursive lock does.
func (a *Arena) OpenScope() *Scope {
	blockIdx := a.cur
	pos := uint32(0)
	if blockIdx >= 0 {
		pos = a.blocks[blockIdx].pos
	}
	return &Scope{arena: a, blockIdx: blockIdx, startPos: pos}
}

// Commit promotes the scope's allocations to persistent: the arena's
// floor is left advanced past them.
func (s *Scope) Commit() {
	if s.dropped {
		panic("arena: cannot commit a dropped scope")
	}
	s.committed = true
}

// Drop reverts the arena to the position recorded when the scope was
// opened. Attempting to drop a scope that was committed, or committing
// one that was already dropped, is a programming error and panics —
// the invariant spec §9 calls out ("nested scope while persisting
// aborts") is enforced at the call site, not silently ignored here.
func (s *Scope) Drop() {
	if s.committed {
		panic("arena: cannot drop a committed scope")
	}
	if s.dropped {
		return
	}
	s.dropped = true

	// Keep at least one block even if none existed when this scope
	// opened: the 64 KiB region was already taken from the sandbox's
	// malloc and is never freed, so discarding our own reference to it
	// would just force a redundant malloc on the next reservation.
	keep := s.blockIdx + 1
	if keep < 1 {
		keep = 1
	}
	if keep > len(s.arena.blocks) {
		keep = len(s.arena.blocks)
	}
	s.arena.blocks = s.arena.blocks[:keep]
	if keep == 0 {
		s.arena.cur = -1
		return
	}
	s.arena.cur = keep - 1
	if s.blockIdx < 0 {
		s.arena.blocks[keep-1].pos = 0
	} else {
		s.arena.blocks[keep-1].pos = s.startPos
	}
}

// reserve bumps n bytes aligned to align and returns the sandbox
// pointer and the native-side byte slice view of the same region.
func (s *Scope) reserve(ctx context.Context, n uint32, align uint32) (abi.Ptr, []byte, error) {
	b, err := s.arena.ensureBlock(ctx, n+align)
	if err != nil {
		return 0, nil, err
	}
	// ensureBlock guarantees at least n+align bytes remain, so the
	// aligned start always leaves room for n more.
	start := alignUp32(b.pos, align)
	b.pos = start + n
	return b.sandboxBase.Add(start), b.native[start : start+n], nil
}

func alignUp32(v, align uint32) uint32 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// CopyAcross writes data into a freshly reserved sandbox slot and
// returns its pointer (spec §4.D "copyAcross").
func (s *Scope) CopyAcross(ctx context.Context, data []byte) (abi.Ptr, error) {
	ptr, native, err := s.reserve(ctx, uint32(len(data)), 1)
	if err != nil {
		return 0, err
	}
	copy(native, data)
	if err := s.arena.caller.WriteMemory(ptr, native); err != nil {
		return 0, err
	}
	return ptr, nil
}

// WriteString writes a NUL-terminated copy of str into sandbox memory,
// bounded to maxBytes (including the terminator) unless maxBytes is 0,
// in which case abi.DefaultStringBound is used (spec §4.D, §8).
func (s *Scope) WriteString(ctx context.Context, str string, maxBytes uint32) (abi.Ptr, error) {
	if maxBytes == 0 {
		maxBytes = abi.DefaultStringBound
	}
	b := []byte(str)
	if uint32(len(b))+1 > maxBytes {
		b = b[:maxBytes-1]
	}
	buf := make([]byte, len(b)+1)
	copy(buf, b)
	return s.CopyAcross(ctx, buf)
}

// Array reserves a contiguous sandbox region sized for n elements of
// elemSize bytes, aligned to elemAlign (spec §4.D "array<T>(n)").
func (s *Scope) Array(ctx context.Context, n int, elemSize, elemAlign uint32) (abi.Ptr, error) {
	ptr, native, err := s.reserve(ctx, uint32(n)*elemSize, elemAlign)
	if err != nil {
		return 0, err
	}
	for i := range native {
		native[i] = 0
	}
	if err := s.arena.caller.WriteMemory(ptr, native); err != nil {
		return 0, err
	}
	return ptr, nil
}
