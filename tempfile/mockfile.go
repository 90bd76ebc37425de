package tempfile

import (
	"bytes"

	"github.com/pingcap/errors"
)

// MemStore is an in-memory Store implementation, useful for tests and
// benchmarks that should not touch the filesystem. It additionally tracks how
// many saved runs have not been released yet, so tests can assert cleanup.
type MemStore struct {
	live int
}

// Mock returns a new in-memory Store.
func Mock() *MemStore {
	return &MemStore{}
}

// Live returns the number of run buffers that have been created but not yet
// discarded or closed.
func (s *MemStore) Live() int {
	return s.live
}

// Create implements Store.
func (s *MemStore) Create() (Writer, error) {
	s.live++
	return &memWriter{store: s}, nil
}

type memWriter struct {
	store *MemStore
	data  bytes.Buffer
	done  bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	return w.data.Write(p)
}

func (w *memWriter) Save() (Reader, error) {
	if w.done {
		return nil, errors.New("tempfile: Save on finished writer")
	}
	w.done = true
	return &memReader{
		store: w.store,
		data:  bytes.NewReader(w.data.Bytes()),
	}, nil
}

func (w *memWriter) Discard() error {
	if w.done {
		return nil
	}
	w.done = true
	w.store.live--
	return nil
}

type memReader struct {
	store  *MemStore
	data   *bytes.Reader
	closed bool
}

func (r *memReader) Read(p []byte) (int, error) {
	return r.data.Read(p)
}

func (r *memReader) ReadByte() (byte, error) {
	return r.data.ReadByte()
}

func (r *memReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.store.live--
	return nil
}
