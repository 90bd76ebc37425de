package sorter

import "bytes"

// Ordering is the result of comparing two values.
// Using an explicit three-way type instead of a raw int makes it impossible
// to confuse a comparison result with an ordinary integer.
type Ordering int

// The three possible comparison results.
const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

// KV is a single key/value pair flowing through the sorter.
type KV[K, V any] struct {
	Key   K
	Value V
}

// Comparator defines a total order over pairs. It must be consistent:
// reflexive, antisymmetric, and transitive. Equal pairs are emitted in their
// original insertion order, so a Comparator that only inspects the key is fine.
type Comparator[K, V any] func(a, b KV[K, V]) Ordering

// Codec bundles the per-type capabilities the sorter needs from an element
// type: byte serialization for spilled runs, a memory footprint estimate for
// budget accounting, and an optional owned-copy conversion.
type Codec[E any] struct {
	// ToBytes serializes an element for storage in a spilled run.
	ToBytes func(E) ([]byte, error)

	// FromBytes is the inverse of ToBytes, reconstructing an element read
	// back from a spilled run. The returned element is always owned.
	FromBytes func([]byte) (E, error)

	// MemUsage estimates how much memory an element occupies, including any
	// referenced data. The estimate only needs to be approximate but must be
	// positive for non-trivial elements or the memory budget cannot bound
	// anything.
	MemUsage func(E) int

	// ToOwned returns a copy of the element that does not alias caller-owned
	// memory. Leave nil if elements handed to Add are already owned.
	ToOwned func(E) E
}

// BytesCodec is a ready-made Codec for raw []byte elements. ToOwned clones,
// so callers may pass buffers they intend to reuse (e.g. bufio.Scanner.Bytes).
func BytesCodec() Codec[[]byte] {
	return Codec[[]byte]{
		ToBytes:   func(b []byte) ([]byte, error) { return b, nil },
		FromBytes: func(b []byte) ([]byte, error) { return b, nil },
		MemUsage:  func(b []byte) int { return len(b) + 24 },
		ToOwned:   func(b []byte) []byte { return bytes.Clone(b) },
	}
}

// toOwned applies the optional ToOwned conversion.
func (c Codec[E]) toOwned(e E) E {
	if c.ToOwned == nil {
		return e
	}
	return c.ToOwned(e)
}

// Iterator is the output of the sorting framework: a single-threaded pull
// stream of pairs in sorted order.
//
// Close releases every temporary resource still held by the iterator and may
// be called at any point to abandon the stream early; it is idempotent.
// Calling Next without a preceding More returning true is a programming error
// and panics.
type Iterator[K, V any] interface {
	// More reports whether another pair is available.
	More() bool

	// Next returns the next pair in sorted order. A non-nil error means the
	// stream is broken (disk failure or corrupt run data) and the iterator is
	// dead; no recovery is possible.
	Next() (KV[K, V], error)

	// Close releases all resources owned by the iterator.
	Close() error
}
