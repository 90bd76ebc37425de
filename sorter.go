// Package sorter implements memory-bounded external sorting of key/value
// pairs: input is buffered and sorted in memory up to a configured budget,
// sorted runs are spilled to temporary files when the budget is exceeded, and
// a deterministic k-way merge produces a single globally ordered output
// stream. Inputs that fit in the budget never touch disk.
package sorter

import (
	"slices"

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/cinderkv/sorter/tempfile"
)

// Sorter accepts key/value pairs via Add and hands back a sorted iterator
// from Done. A Sorter is driven by a single goroutine and performs no
// internal locking; independent Sorter instances are fully isolated and may
// run concurrently.
//
// The lifecycle is strict: Add is only legal before Done, and Done may be
// called at most once. Violations panic. Abandoning a sort early is done by
// closing the Sorter (before Done) or the returned iterator (after Done);
// either releases every temporary file the instance created.
type Sorter[K, V any] struct {
	opts     SortOptions
	comp     Comparator[K, V]
	keyCodec Codec[K]
	valCodec Codec[V]

	store tempfile.Store // created lazily on first spill
	buf   []KV[K, V]
	// memUsed tracks the estimated footprint of buf. Approximate but checked
	// on every Add, so the buffer never stays over budget past one call.
	memUsed int
	runs    []Iterator[K, V] // spilled runs, in creation order
	spilled int              // total runs spilled, survives Done

	closed    bool // Done was called
	handedOff bool // the merged iterator now owns all resources
}

// New constructs a Sorter. The comparator defines the output order; the
// codecs supply serialization and memory accounting for the key and value
// types. Options are fixed for the life of the instance.
func New[K, V any](opts SortOptions, comp Comparator[K, V], keyCodec Codec[K], valCodec Codec[V]) (*Sorter[K, V], error) {
	opts.normalize()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Sorter[K, V]{
		opts:     opts,
		comp:     comp,
		keyCodec: keyCodec,
		valCodec: valCodec,
	}, nil
}

// Add buffers one pair. If the pair pushes the memory estimate over budget,
// the buffer is either spilled to disk as a sorted run or, when external
// sorting is not allowed, the sort fails with a MemoryLimitError.
// Borrowed keys and values are converted to owned copies via the codecs, so
// callers may reuse their buffers after Add returns.
func (s *Sorter[K, V]) Add(key K, value V) error {
	if s.closed {
		panic("sorter: Add called after Done")
	}
	kv := KV[K, V]{
		Key:   s.keyCodec.toOwned(key),
		Value: s.valCodec.toOwned(value),
	}
	s.buf = append(s.buf, kv)
	s.memUsed += s.keyCodec.MemUsage(kv.Key) + s.valCodec.MemUsage(kv.Value)

	if s.memUsed <= s.opts.MaxMemoryUsageBytes {
		return nil
	}
	if !s.opts.ExtSortAllowed {
		return &MemoryLimitError{MemUsed: s.memUsed, Limit: s.opts.MaxMemoryUsageBytes}
	}
	return s.spill()
}

// spill sorts the buffer and persists it as a new run, then resets the
// buffer and its memory accounting.
func (s *Sorter[K, V]) spill() error {
	if s.store == nil {
		s.store = tempfile.NewDiskStore(s.opts.TempDir)
	}
	s.sortBuf()

	w, err := s.store.Create()
	if err != nil {
		return errors.Trace(err)
	}
	rw := newRunWriter(w, s.keyCodec, s.valCodec)
	for _, kv := range s.buf {
		if err := rw.Add(kv.Key, kv.Value); err != nil {
			_ = rw.Discard()
			return err
		}
	}
	run, err := rw.Done()
	if err != nil {
		return err
	}
	s.runs = append(s.runs, run)
	s.spilled++

	s.opts.Logger.Debug("spilled sorted run",
		zap.Int("run", s.spilled),
		zap.Int("records", len(s.buf)),
		zap.Int("memUsed", s.memUsed))

	s.buf = nil
	s.memUsed = 0
	return nil
}

// sortBuf stable-sorts the buffer so equal pairs keep insertion order.
func (s *Sorter[K, V]) sortBuf() {
	slices.SortStableFunc(s.buf, func(a, b KV[K, V]) int {
		return int(s.comp(a, b))
	})
}

// Done finishes input and returns the iterator over the fully sorted stream.
// If no spill ever happened the buffer is sorted once and returned directly
// with no disk I/O; otherwise the remaining buffer becomes the final
// in-memory run and is merged with every spilled run. Done may be called at
// most once.
//
// The returned iterator owns all temporary files; draining or closing it
// releases them.
func (s *Sorter[K, V]) Done() (Iterator[K, V], error) {
	if s.closed {
		panic("sorter: Done called twice")
	}
	s.closed = true

	if s.memUsed > s.opts.MaxMemoryUsageBytes && !s.opts.ExtSortAllowed {
		return nil, &MemoryLimitError{MemUsed: s.memUsed, Limit: s.opts.MaxMemoryUsageBytes}
	}

	s.sortBuf()
	buf := s.buf
	s.buf = nil
	s.memUsed = 0

	if len(s.runs) == 0 {
		// fast path: everything fit in memory
		s.handedOff = true
		return newInMemIterator(buf, s.opts.Limit), nil
	}

	// spilled runs first, the final in-memory run last: sources are ordered
	// by creation so merge ties resolve to original insertion order
	sources := make([]Iterator[K, V], 0, len(s.runs)+1)
	sources = append(sources, s.runs...)
	sources = append(sources, newInMemIterator(buf, 0))
	s.runs = nil
	s.handedOff = true

	s.opts.Logger.Debug("merging spilled runs",
		zap.Int("sources", len(sources)),
		zap.Int("limit", s.opts.Limit))
	return newMergeIterator(sources, s.comp, s.opts.Limit, nil), nil
}

// Close abandons the sort and releases every temporary file the Sorter still
// owns. It is a no-op after Done, where the returned iterator has taken
// ownership. Idempotent.
func (s *Sorter[K, V]) Close() error {
	if s.handedOff {
		return nil
	}
	s.closed = true
	s.handedOff = true
	s.buf = nil
	s.memUsed = 0
	var firstErr error
	for _, run := range s.runs {
		if err := run.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.runs = nil
	return firstErr
}

// SpilledRuns returns the number of sorted runs written to disk so far.
// Diagnostic only.
func (s *Sorter[K, V]) SpilledRuns() int {
	return s.spilled
}

// MemUsed returns the current buffered memory estimate. Diagnostic only.
func (s *Sorter[K, V]) MemUsed() int {
	return s.memUsed
}
