package sorter

import (
	"encoding/binary"
	"io"

	"github.com/pingcap/errors"

	"github.com/cinderkv/sorter/tempfile"
)

// maxRecordSize caps a single serialized key or value. A length prefix above
// this is treated as corruption rather than an allocation request.
const maxRecordSize = 1 << 30

// RunWriter serializes an already-sorted sequence of pairs to a single
// temporary file. The sorter uses it for spills, but it is also usable
// directly by callers that hold presorted data and want a disk-backed
// iterator over it.
//
// Records are length-prefixed: uvarint key length, key bytes, uvarint value
// length, value bytes. Any write failure is fatal; a partially written run
// cannot be trusted.
type RunWriter[K, V any] struct {
	w        tempfile.Writer
	keyCodec Codec[K]
	valCodec Codec[V]
	scratch  [binary.MaxVarintLen64]byte
	count    int
	done     bool
}

// NewRunWriter creates a RunWriter backed by a fresh temporary file in
// opts.TempDir. The file is removed once the writer and any iterator
// returned by Done have been released.
func NewRunWriter[K, V any](opts SortOptions, keyCodec Codec[K], valCodec Codec[V]) (*RunWriter[K, V], error) {
	w, err := tempfile.NewDiskStore(opts.TempDir).Create()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return newRunWriter(w, keyCodec, valCodec), nil
}

func newRunWriter[K, V any](w tempfile.Writer, keyCodec Codec[K], valCodec Codec[V]) *RunWriter[K, V] {
	return &RunWriter[K, V]{
		w:        w,
		keyCodec: keyCodec,
		valCodec: valCodec,
	}
}

// Add appends a pair to the run. Pairs must arrive in sorted order; the
// writer does not verify this.
func (rw *RunWriter[K, V]) Add(key K, value V) error {
	raw, err := rw.keyCodec.ToBytes(key)
	if err != nil {
		return errors.Annotate(err, "serialize key")
	}
	if err := rw.writeRecord(raw); err != nil {
		return err
	}
	raw, err = rw.valCodec.ToBytes(value)
	if err != nil {
		return errors.Annotate(err, "serialize value")
	}
	if err := rw.writeRecord(raw); err != nil {
		return err
	}
	rw.count++
	return nil
}

func (rw *RunWriter[K, V]) writeRecord(raw []byte) error {
	n := binary.PutUvarint(rw.scratch[:], uint64(len(raw)))
	if _, err := rw.w.Write(rw.scratch[:n]); err != nil {
		return errors.Annotate(err, "write record size")
	}
	if _, err := rw.w.Write(raw); err != nil {
		return errors.Annotate(err, "write record data")
	}
	return nil
}

// Done flushes and closes the file and returns an iterator over the
// persisted run. The writer cannot be used afterwards.
func (rw *RunWriter[K, V]) Done() (Iterator[K, V], error) {
	if rw.done {
		panic("sorter: RunWriter Done called twice")
	}
	rw.done = true
	r, err := rw.w.Save()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &fileIterator[K, V]{
		r:        r,
		keyCodec: rw.keyCodec,
		valCodec: rw.valCodec,
	}, nil
}

// Discard abandons the run and removes its file. Used on error exits before
// Done was reached.
func (rw *RunWriter[K, V]) Discard() error {
	if rw.done {
		return nil
	}
	rw.done = true
	return errors.Trace(rw.w.Discard())
}

// fileIterator lazily deserializes pairs from a persisted run, one at a time.
// It holds a reference to the run file via the tempfile guard; the file is
// removed once the iterator is exhausted or closed.
type fileIterator[K, V any] struct {
	r        tempfile.Reader
	keyCodec Codec[K]
	valCodec Codec[V]
	next     KV[K, V]
	nextErr  error
	loaded   bool
	finished bool
}

func (it *fileIterator[K, V]) More() bool {
	if it.loaded {
		return true
	}
	if it.finished {
		return false
	}
	it.next, it.nextErr = it.read()
	if it.nextErr == io.EOF {
		// clean end of run, release the file
		it.finished = true
		_ = it.Close()
		return false
	}
	it.loaded = true
	return true
}

func (it *fileIterator[K, V]) Next() (KV[K, V], error) {
	if !it.More() {
		panic("sorter: Next called on exhausted iterator")
	}
	it.loaded = false
	if it.nextErr != nil {
		// the run is corrupt or unreadable, no point keeping the file
		it.finished = true
		_ = it.Close()
		return KV[K, V]{}, it.nextErr
	}
	return it.next, nil
}

// read returns io.EOF only at a record boundary; any other failure is wrapped
// as a DeserializationError or traced I/O error.
func (it *fileIterator[K, V]) read() (KV[K, V], error) {
	var kv KV[K, V]

	raw, err := it.readRecord(true)
	if err != nil {
		return kv, err
	}
	kv.Key, err = it.keyCodec.FromBytes(raw)
	if err != nil {
		return kv, newDeserializationError(err, len(raw), "decode key")
	}

	raw, err = it.readRecord(false)
	if err != nil {
		return kv, err
	}
	kv.Value, err = it.valCodec.FromBytes(raw)
	if err != nil {
		return kv, newDeserializationError(err, len(raw), "decode value")
	}
	return kv, nil
}

func (it *fileIterator[K, V]) readRecord(first bool) ([]byte, error) {
	n, err := binary.ReadUvarint(it.r)
	if err != nil {
		if err == io.EOF && first {
			return nil, io.EOF
		}
		// EOF in the middle of a pair is a truncated record
		return nil, newDeserializationError(err, -1, "read record size")
	}
	if n > maxRecordSize {
		return nil, newDeserializationError(nil, int(n), "record size out of range")
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(it.r, raw); err != nil {
		return nil, newDeserializationError(err, int(n), "read record data")
	}
	return raw, nil
}

func (it *fileIterator[K, V]) Close() error {
	it.loaded = false
	it.finished = true
	return errors.Trace(it.r.Close())
}
