// Package tempfile manages the temporary run files produced by external
// sorting: creation in a per-instance namespace, buffered writing, buffered
// reading back, and guaranteed removal. Each file is guarded by a reference
// count shared between its writer and any reader derived from it, so it is
// deleted exactly once, on whichever exit path drops the last reference.
package tempfile

import (
	"bufio"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pingcap/errors"
)

// file IO buffer size for each run file
const fileBufferSize = 1 << 16 // 64k

// DiskStore creates run files on disk inside a single directory.
// All files created by one DiskStore share a unique per-instance name prefix,
// so any number of stores can point at the same directory concurrently.
type DiskStore struct {
	dir    string
	prefix string
}

// NewDiskStore returns a DiskStore placing files in dir.
// An empty dir means the OS default temp directory.
func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{
		dir:    dir,
		prefix: fmt.Sprintf("sorter-%s-", uuid.NewString()),
	}
}

// Create implements Store.
func (s *DiskStore) Create() (Writer, error) {
	f, err := os.CreateTemp(s.dir, s.prefix+"*.run")
	if err != nil {
		return nil, errors.Annotate(err, "create run file")
	}
	w := &diskWriter{
		file:      f,
		bufWriter: bufio.NewWriterSize(f, fileBufferSize),
		guard:     &fileGuard{path: f.Name()},
	}
	w.guard.refs.Store(1)
	return w, nil
}

// fileGuard deletes the underlying file when the last reference is released.
type fileGuard struct {
	path string
	refs atomic.Int32
}

func (g *fileGuard) acquire() {
	g.refs.Add(1)
}

func (g *fileGuard) release() error {
	if g.refs.Add(-1) > 0 {
		return nil
	}
	return errors.Annotate(os.Remove(g.path), "remove run file")
}

type diskWriter struct {
	file      *os.File
	bufWriter *bufio.Writer
	guard     *fileGuard
	done      bool
}

// Write implements io.Writer.
func (w *diskWriter) Write(p []byte) (int, error) {
	return w.bufWriter.Write(p)
}

// Save implements Writer. The guard reference held by the writer is handed
// over to the returned reader.
func (w *diskWriter) Save() (Reader, error) {
	if w.done {
		return nil, errors.New("tempfile: Save on finished writer")
	}
	w.done = true
	if err := w.bufWriter.Flush(); err != nil {
		_ = w.abort()
		return nil, errors.Annotate(err, "flush run file")
	}
	if err := w.file.Sync(); err != nil {
		_ = w.abort()
		return nil, errors.Annotate(err, "sync run file")
	}
	if err := w.file.Close(); err != nil {
		_ = w.guard.release()
		return nil, errors.Annotate(err, "close run file")
	}
	f, err := os.Open(w.guard.path)
	if err != nil {
		_ = w.guard.release()
		return nil, errors.Annotate(err, "reopen run file")
	}
	return &diskReader{
		file:      f,
		bufReader: bufio.NewReaderSize(f, fileBufferSize),
		guard:     w.guard,
	}, nil
}

// Discard implements Writer.
func (w *diskWriter) Discard() error {
	if w.done {
		return nil
	}
	w.done = true
	return w.abort()
}

func (w *diskWriter) abort() error {
	err := w.file.Close()
	if rerr := w.guard.release(); err == nil {
		err = rerr
	}
	return errors.Trace(err)
}

type diskReader struct {
	file      *os.File
	bufReader *bufio.Reader
	guard     *fileGuard
	closed    bool
}

// Read implements io.Reader.
func (r *diskReader) Read(p []byte) (int, error) {
	return r.bufReader.Read(p)
}

// ReadByte implements io.ByteReader.
func (r *diskReader) ReadByte() (byte, error) {
	return r.bufReader.ReadByte()
}

// Close implements io.Closer. The file is removed if this was the last
// reference to it.
func (r *diskReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.file.Close()
	if rerr := r.guard.release(); err == nil {
		err = rerr
	}
	return errors.Trace(err)
}
