package sorter

import "go.uber.org/zap"

// defaultMaxMemoryUsageBytes is used when SortOptions.MaxMemoryUsageBytes is
// left zero. 64MB matches the budget typically granted to a single index
// build or sort stage.
const defaultMaxMemoryUsageBytes = 64 << 20

// SortOptions controls a Sorter's behavior. Options are fixed at construction
// and never consulted for mutation afterwards.
type SortOptions struct {
	// Limit is the number of pairs the output is truncated to. 0 means
	// unlimited. With a limit set, the merge stops reading sources as soon as
	// the limit is reached, making it a true top-K optimization.
	Limit int

	// MaxMemoryUsageBytes is the approximate in-memory buffering budget.
	// 0 selects the default of 64MB.
	MaxMemoryUsageBytes int

	// ExtSortAllowed permits spilling sorted runs to temporary files when the
	// memory budget is exceeded. When false, exceeding the budget fails the
	// sort with a MemoryLimitError instead.
	ExtSortAllowed bool

	// TempDir is the directory spilled runs are written to.
	// Empty means the OS default temp directory.
	TempDir string

	// Logger receives debug-level diagnostics (spill and merge events).
	// Nil means no logging.
	Logger *zap.Logger
}

// DefaultSortOptions returns the options used when a zero value is not
// meaningful: unlimited output, 64MB budget, external sorting allowed.
func DefaultSortOptions() SortOptions {
	return SortOptions{
		MaxMemoryUsageBytes: defaultMaxMemoryUsageBytes,
		ExtSortAllowed:      true,
	}
}

// normalize fills in defaults for unset fields.
func (o *SortOptions) normalize() {
	if o.MaxMemoryUsageBytes == 0 {
		o.MaxMemoryUsageBytes = defaultMaxMemoryUsageBytes
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// validate rejects option values that cannot be defaulted away.
func (o *SortOptions) validate() error {
	if o.Limit < 0 {
		return &ConfigError{Field: "Limit", Value: o.Limit, Reason: "must be non-negative"}
	}
	if o.MaxMemoryUsageBytes < 0 {
		return &ConfigError{Field: "MaxMemoryUsageBytes", Value: o.MaxMemoryUsageBytes, Reason: "must be positive"}
	}
	return nil
}
