package sorter

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// SortStream drives a Sorter from an input channel and delivers the sorted
// stream on the returned output channel. It is a convenience wrapper for
// callers that prefer channels over the pull iterator; the engine itself
// stays synchronous and the single worker goroutine here is the only
// concurrency involved.
//
// The output channel is closed when the sort completes, fails, or ctx is
// cancelled. At most one error is delivered on the error channel, after the
// output channel closes. Temporary files are released on every exit path.
func SortStream[K, V any](ctx context.Context, input <-chan KV[K, V], comp Comparator[K, V], keyCodec Codec[K], valCodec Codec[V], opts SortOptions) (<-chan KV[K, V], <-chan error) {
	out := make(chan KV[K, V], 64)
	errChan := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errChan)
		if err := runSortStream(ctx, input, out, comp, keyCodec, valCodec, opts); err != nil {
			errChan <- err
		}
	}()

	return out, errChan
}

func runSortStream[K, V any](ctx context.Context, input <-chan KV[K, V], out chan<- KV[K, V], comp Comparator[K, V], keyCodec Codec[K], valCodec Codec[V], opts SortOptions) error {
	s, err := New(opts, comp, keyCodec, valCodec)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	var it Iterator[K, V]
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		for {
			select {
			case kv, ok := <-input:
				if !ok {
					var err error
					it, err = s.Done()
					return err
				}
				if err := s.Add(kv.Key, kv.Value); err != nil {
					return err
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})
	if err := group.Wait(); err != nil {
		return err
	}
	defer func() { _ = it.Close() }()

	for it.More() {
		kv, err := it.Next()
		if err != nil {
			return err
		}
		select {
		case out <- kv:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
