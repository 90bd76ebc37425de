package tempfile

import "io"

// Store creates the temporary run files for one sorter instance.
// Implementations must guarantee that files created by different Store
// instances never collide, so independent sorters can share a directory.
type Store interface {
	// Create opens a new empty run file for writing.
	Create() (Writer, error)
}

// Writer is the write side of a single run file. Writes are buffered;
// nothing is guaranteed durable until Save.
//
// Exactly one of Save or Discard must be called. The underlying file is
// removed once the last handle referencing it (this writer, or the reader
// returned by Save) is released.
type Writer interface {
	io.Writer

	// Save flushes and closes the file and returns a Reader positioned at
	// its beginning. The writer is dead afterwards.
	Save() (Reader, error)

	// Discard abandons the file without saving it. The file is removed if no
	// reader references it.
	Discard() error
}

// Reader is the read side of a saved run file. Reads are buffered.
// Close releases the reader's reference; the file is removed when the last
// reference drops. Close is idempotent.
type Reader interface {
	io.Reader
	io.ByteReader
	io.Closer
}
