package sorter

import (
	"fmt"
)

// MemoryLimitError is returned by Add or Done when the buffered memory
// estimate exceeds SortOptions.MaxMemoryUsageBytes and external sorting is
// not allowed. It is fatal to the sort; recovery policy (retry with a bigger
// budget, enable spilling) belongs to the caller.
type MemoryLimitError struct {
	// MemUsed is the buffered memory estimate at the time of failure.
	MemUsed int
	// Limit is the configured memory budget.
	Limit int
}

func (e *MemoryLimitError) Error() string {
	return fmt.Sprintf("memory usage %d bytes exceeds limit of %d bytes and external sorting is not allowed", e.MemUsed, e.Limit)
}

// DeserializationError reports corrupt data in a spilled run: a malformed
// length prefix, a truncated record, or a Codec.FromBytes failure. Runs are
// written and read by the same process moments apart, so corruption is always
// fatal, never recoverable.
type DeserializationError struct {
	// Cause is the underlying read or decode error, if any.
	Cause error
	// DataSize is the size of the record that failed to deserialize,
	// or -1 if the length prefix itself was unreadable.
	DataSize int
	// Context describes what was being read.
	Context string
}

func (e *DeserializationError) Error() string {
	if e.DataSize >= 0 {
		return fmt.Sprintf("corrupt run data in %s (record size: %d bytes): %v", e.Context, e.DataSize, e.Cause)
	}
	return fmt.Sprintf("corrupt run data in %s: %v", e.Context, e.Cause)
}

func (e *DeserializationError) Unwrap() error {
	return e.Cause
}

// newDeserializationError creates a DeserializationError.
func newDeserializationError(cause error, dataSize int, context string) error {
	return &DeserializationError{Cause: cause, DataSize: dataSize, Context: context}
}

// ConfigError reports an invalid SortOptions field.
type ConfigError struct {
	// Field is the name of the offending option.
	Field string
	// Value is the invalid value provided.
	Value any
	// Reason explains why the value is invalid.
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in field %s (value: %v): %s", e.Field, e.Value, e.Reason)
}
