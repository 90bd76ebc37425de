package sorter

import (
	"go.uber.org/zap"

	"github.com/cinderkv/sorter/queue"
)

// Merge combines any number of independently sorted iterators into one
// globally sorted iterator, applying the same ordering, tie-break, and limit
// rules as a Sorter's own merge. Sources must be given in creation order:
// when the comparator reports two heads Equal, the earlier source in the
// slice wins, which preserves insertion order across runs.
//
// The returned iterator takes ownership of the sources; closing it closes
// them all. With opts.Limit > 0, no source is read beyond what is needed to
// produce the first Limit elements.
func Merge[K, V any](iters []Iterator[K, V], comp Comparator[K, V], opts SortOptions) Iterator[K, V] {
	opts.normalize()
	opts.Logger.Debug("merging sorted sources",
		zap.Int("sources", len(iters)),
		zap.Int("limit", opts.Limit))
	return newMergeIterator(iters, comp, opts.Limit, nil)
}

// mergeIterator performs a deterministic k-way merge. The heap holds indices
// into the sources slice, never the pairs themselves; heads keeps the current
// head pair of each non-exhausted source. Ties are broken by ascending source
// index, i.e. by run creation order.
type mergeIterator[K, V any] struct {
	sources []Iterator[K, V]
	heads   []KV[K, V]
	pq      *queue.PriorityQueue[int]

	limit   int // 0 = unlimited
	emitted int

	onClose func() error // run once when the iterator dies

	seeded bool
	closed bool
	err    error // pending fatal error, surfaced by the next Next call
}

func newMergeIterator[K, V any](sources []Iterator[K, V], comp Comparator[K, V], limit int, onClose func() error) *mergeIterator[K, V] {
	m := &mergeIterator[K, V]{
		sources: sources,
		heads:   make([]KV[K, V], len(sources)),
		limit:   limit,
		onClose: onClose,
	}
	m.pq = queue.NewPriorityQueue(func(i, j int) int {
		if ord := comp(m.heads[i], m.heads[j]); ord != Equal {
			return int(ord)
		}
		return i - j
	})
	return m
}

// seed loads the head pair of every non-empty source into the heap.
// Deferred to the first More/Next call so that constructing a merge does no
// I/O by itself.
func (m *mergeIterator[K, V]) seed() {
	m.seeded = true
	for i, src := range m.sources {
		if !src.More() {
			continue
		}
		head, err := src.Next()
		if err != nil {
			m.err = err
			return
		}
		m.heads[i] = head
		m.pq.Push(i)
	}
}

func (m *mergeIterator[K, V]) More() bool {
	if m.closed {
		return false
	}
	if !m.seeded {
		m.seed()
	}
	if m.err != nil {
		// report true so the error surfaces through Next
		return true
	}
	if m.limit > 0 && m.emitted >= m.limit {
		return false
	}
	return m.pq.Len() > 0
}

func (m *mergeIterator[K, V]) Next() (KV[K, V], error) {
	if !m.More() {
		panic("sorter: Next called on exhausted iterator")
	}
	if m.err != nil {
		err := m.err
		_ = m.Close()
		return KV[K, V]{}, err
	}

	i := m.pq.Peek()
	rec := m.heads[i]
	m.emitted++

	if m.limit > 0 && m.emitted >= m.limit {
		// top-K satisfied: stop here, issue no further reads
		_ = m.Close()
		return rec, nil
	}

	if m.sources[i].More() {
		head, err := m.sources[i].Next()
		if err != nil {
			// emit the record we already hold; fail on the next call
			m.err = err
			return rec, nil
		}
		m.heads[i] = head
		m.pq.PeekUpdate()
	} else {
		m.pq.Pop()
		m.heads[i] = KV[K, V]{}
	}
	return rec, nil
}

// Close releases every source and any temp files behind them. Idempotent.
func (m *mergeIterator[K, V]) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	var firstErr error
	for _, src := range m.sources {
		if err := src.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if m.onClose != nil {
		if err := m.onClose(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
