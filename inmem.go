package sorter

// inMemIterator yields pairs from an already-sorted slice. It owns the slice.
type inMemIterator[K, V any] struct {
	data []KV[K, V]
	pos  int
}

func newInMemIterator[K, V any](data []KV[K, V], limit int) *inMemIterator[K, V] {
	if limit > 0 && len(data) > limit {
		data = data[:limit]
	}
	return &inMemIterator[K, V]{data: data}
}

func (it *inMemIterator[K, V]) More() bool {
	return it.pos < len(it.data)
}

func (it *inMemIterator[K, V]) Next() (KV[K, V], error) {
	if !it.More() {
		panic("sorter: Next called on exhausted iterator")
	}
	kv := it.data[it.pos]
	it.pos++
	return kv, nil
}

func (it *inMemIterator[K, V]) Close() error {
	it.data = nil
	it.pos = 0
	return nil
}
