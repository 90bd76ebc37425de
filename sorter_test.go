package sorter_test

import (
	"encoding/binary"
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinderkv/sorter"
)

// pairMemUsage is the footprint of one int64 pair under int64Codec: two
// fixed-size 8-byte elements.
const pairMemUsage = 16

// int64Codec serializes int64 elements as fixed 8-byte little-endian.
func int64Codec() sorter.Codec[int64] {
	return sorter.Codec[int64]{
		ToBytes: func(v int64) ([]byte, error) {
			b := make([]byte, 8)
			binary.LittleEndian.PutUint64(b, uint64(v))
			return b, nil
		},
		FromBytes: func(b []byte) (int64, error) {
			return int64(binary.LittleEndian.Uint64(b)), nil
		},
		MemUsage: func(int64) int { return 8 },
	}
}

// ascByKey orders int64 pairs by key only, so equal keys test stability.
func ascByKey(a, b sorter.KV[int64, int64]) sorter.Ordering {
	switch {
	case a.Key < b.Key:
		return sorter.Less
	case a.Key > b.Key:
		return sorter.Greater
	}
	return sorter.Equal
}

func newInt64Sorter(t *testing.T, opts sorter.SortOptions) *sorter.Sorter[int64, int64] {
	t.Helper()
	codec := int64Codec()
	s, err := sorter.New(opts, ascByKey, codec, codec)
	require.NoError(t, err)
	return s
}

func drain(t *testing.T, it sorter.Iterator[int64, int64]) []sorter.KV[int64, int64] {
	t.Helper()
	var out []sorter.KV[int64, int64]
	for it.More() {
		kv, err := it.Next()
		require.NoError(t, err)
		out = append(out, kv)
	}
	return out
}

// requireNoTempFiles asserts that the sorter left nothing behind in dir.
func requireNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "sorter-*"))
	require.NoError(t, err)
	require.Empty(t, matches, "temp files left behind")
}

func TestSortInMemory(t *testing.T) {
	opts := sorter.DefaultSortOptions()
	s := newInt64Sorter(t, opts)

	keys := []int64{5, 3, 9, 1, 7}
	for i, k := range keys {
		require.NoError(t, s.Add(k, int64(i)))
	}

	it, err := s.Done()
	require.NoError(t, err)
	defer it.Close()

	got := drain(t, it)
	require.Len(t, got, len(keys))
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].Key, got[i].Key)
	}
	assert.Equal(t, 0, s.SpilledRuns(), "in-memory sort must not spill")
}

func TestSortEmpty(t *testing.T) {
	s := newInt64Sorter(t, sorter.DefaultSortOptions())
	it, err := s.Done()
	require.NoError(t, err)
	defer it.Close()
	require.False(t, it.More())
}

// Scenario: a 1KB budget with 10,000 fixed-size pairs forces many spills; the
// merged output must match a reference in-memory sort of the same input.
func TestSortWithSpills(t *testing.T) {
	dir := t.TempDir()
	opts := sorter.SortOptions{
		MaxMemoryUsageBytes: 1024,
		ExtSortAllowed:      true,
		TempDir:             dir,
	}
	s := newInt64Sorter(t, opts)

	rng := rand.New(rand.NewSource(42))
	const total = 10000
	input := make([]sorter.KV[int64, int64], 0, total)
	for i := 0; i < total; i++ {
		kv := sorter.KV[int64, int64]{Key: rng.Int63(), Value: int64(i)}
		input = append(input, kv)
		require.NoError(t, s.Add(kv.Key, kv.Value))
	}
	require.Greater(t, s.SpilledRuns(), 1, "1KB budget must force multiple spills")

	it, err := s.Done()
	require.NoError(t, err)
	defer it.Close()
	got := drain(t, it)

	want := make([]sorter.KV[int64, int64], total)
	copy(want, input)
	sort.SliceStable(want, func(i, j int) bool { return want[i].Key < want[j].Key })
	require.Equal(t, want, got)

	requireNoTempFiles(t, dir)
}

// Equal keys must come back in insertion order, including across spill
// boundaries.
func TestSortStability(t *testing.T) {
	opts := sorter.SortOptions{
		MaxMemoryUsageBytes: 20 * pairMemUsage,
		ExtSortAllowed:      true,
		TempDir:             t.TempDir(),
	}
	s := newInt64Sorter(t, opts)

	const total = 500
	for i := 0; i < total; i++ {
		require.NoError(t, s.Add(int64(i%7), int64(i))) // many duplicate keys
	}
	require.Greater(t, s.SpilledRuns(), 1)

	it, err := s.Done()
	require.NoError(t, err)
	defer it.Close()
	got := drain(t, it)
	require.Len(t, got, total)

	for i := 1; i < len(got); i++ {
		require.LessOrEqual(t, got[i-1].Key, got[i].Key)
		if got[i-1].Key == got[i].Key {
			require.Less(t, got[i-1].Value, got[i].Value,
				"equal keys must keep insertion order")
		}
	}
}

// Scenario: limit=5 with an ample budget stays on the pure in-memory path and
// yields exactly the 5 smallest keys.
func TestLimitInMemory(t *testing.T) {
	opts := sorter.SortOptions{
		Limit:               5,
		MaxMemoryUsageBytes: 1 << 30,
		ExtSortAllowed:      false,
	}
	s := newInt64Sorter(t, opts)

	rng := rand.New(rand.NewSource(7))
	keys := make([]int64, 100)
	for i := range keys {
		keys[i] = rng.Int63()
		require.NoError(t, s.Add(keys[i], int64(i)))
	}

	it, err := s.Done()
	require.NoError(t, err)
	defer it.Close()
	got := drain(t, it)

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	require.Len(t, got, 5)
	for i, kv := range got {
		assert.Equal(t, keys[i], kv.Key)
	}
	assert.Equal(t, 0, s.SpilledRuns(), "ample budget must not spill")
}

func TestLimitWithSpills(t *testing.T) {
	dir := t.TempDir()
	opts := sorter.SortOptions{
		Limit:               10,
		MaxMemoryUsageBytes: 32 * pairMemUsage,
		ExtSortAllowed:      true,
		TempDir:             dir,
	}
	s := newInt64Sorter(t, opts)

	const total = 1000
	for i := 0; i < total; i++ {
		require.NoError(t, s.Add(int64(total-i), int64(i)))
	}
	require.Greater(t, s.SpilledRuns(), 1)

	it, err := s.Done()
	require.NoError(t, err)
	got := drain(t, it)

	require.Len(t, got, 10)
	for i, kv := range got {
		require.Equal(t, int64(i+1), kv.Key)
	}

	// the limit short-circuits the merge, but cleanup must still be complete
	require.NoError(t, it.Close())
	requireNoTempFiles(t, dir)
}

func TestLimitLargerThanInput(t *testing.T) {
	opts := sorter.DefaultSortOptions()
	opts.Limit = 50
	s := newInt64Sorter(t, opts)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Add(int64(10-i), int64(i)))
	}
	it, err := s.Done()
	require.NoError(t, err)
	defer it.Close()
	require.Len(t, drain(t, it), 10)
}

func TestMemoryLimitExceeded(t *testing.T) {
	opts := sorter.SortOptions{
		MaxMemoryUsageBytes: 4 * pairMemUsage,
		ExtSortAllowed:      false,
	}
	s := newInt64Sorter(t, opts)

	var err error
	for i := 0; i < 100 && err == nil; i++ {
		err = s.Add(int64(i), int64(i))
	}
	require.Error(t, err)
	var memErr *sorter.MemoryLimitError
	require.ErrorAs(t, err, &memErr)
	assert.Equal(t, 4*pairMemUsage, memErr.Limit)
	assert.Greater(t, memErr.MemUsed, memErr.Limit)
}

func TestAddAfterDonePanics(t *testing.T) {
	s := newInt64Sorter(t, sorter.DefaultSortOptions())
	require.NoError(t, s.Add(1, 1))
	it, err := s.Done()
	require.NoError(t, err)
	defer it.Close()

	require.Panics(t, func() { _ = s.Add(2, 2) })
}

func TestDoneTwicePanics(t *testing.T) {
	s := newInt64Sorter(t, sorter.DefaultSortOptions())
	it, err := s.Done()
	require.NoError(t, err)
	defer it.Close()

	require.Panics(t, func() { _, _ = s.Done() })
}

func TestInvalidOptions(t *testing.T) {
	codec := int64Codec()

	_, err := sorter.New(sorter.SortOptions{Limit: -1}, ascByKey, codec, codec)
	var cfgErr *sorter.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "Limit", cfgErr.Field)

	_, err = sorter.New(sorter.SortOptions{MaxMemoryUsageBytes: -5}, ascByKey, codec, codec)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "MaxMemoryUsageBytes", cfgErr.Field)
}

// Closing the iterator midway through a merge must still delete every temp
// file the sorter created.
func TestCleanupOnEarlyClose(t *testing.T) {
	dir := t.TempDir()
	opts := sorter.SortOptions{
		MaxMemoryUsageBytes: 16 * pairMemUsage,
		ExtSortAllowed:      true,
		TempDir:             dir,
	}
	s := newInt64Sorter(t, opts)
	for i := 0; i < 500; i++ {
		require.NoError(t, s.Add(int64(i*31%500), int64(i)))
	}
	require.Greater(t, s.SpilledRuns(), 1)

	it, err := s.Done()
	require.NoError(t, err)

	// read a few records, then abandon the merge
	for i := 0; i < 3; i++ {
		require.True(t, it.More())
		_, err := it.Next()
		require.NoError(t, err)
	}
	require.NoError(t, it.Close())
	requireNoTempFiles(t, dir)

	// Close is idempotent
	require.NoError(t, it.Close())
}

// Closing the sorter before Done releases the spilled runs.
func TestCleanupOnSorterClose(t *testing.T) {
	dir := t.TempDir()
	opts := sorter.SortOptions{
		MaxMemoryUsageBytes: 16 * pairMemUsage,
		ExtSortAllowed:      true,
		TempDir:             dir,
	}
	s := newInt64Sorter(t, opts)
	for i := 0; i < 500; i++ {
		require.NoError(t, s.Add(int64(i), int64(i)))
	}
	require.Greater(t, s.SpilledRuns(), 0)

	require.NoError(t, s.Close())
	requireNoTempFiles(t, dir)
	require.NoError(t, s.Close())
}

// Borrowed inputs are converted to owned copies, so mutating the caller's
// buffer after Add must not corrupt the sort.
func TestToOwnedCopies(t *testing.T) {
	codec := sorter.BytesCodec()
	comp := func(a, b sorter.KV[[]byte, []byte]) sorter.Ordering {
		switch {
		case string(a.Key) < string(b.Key):
			return sorter.Less
		case string(a.Key) > string(b.Key):
			return sorter.Greater
		}
		return sorter.Equal
	}
	s, err := sorter.New(sorter.DefaultSortOptions(), comp, codec, codec)
	require.NoError(t, err)

	buf := []byte("banana")
	require.NoError(t, s.Add(buf, []byte("1")))
	copy(buf, "apple!")
	require.NoError(t, s.Add(buf[:5], []byte("2")))

	it, err := s.Done()
	require.NoError(t, err)
	defer it.Close()

	kv, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, "apple", string(kv.Key))
	kv, err = it.Next()
	require.NoError(t, err)
	assert.Equal(t, "banana", string(kv.Key))
	require.False(t, it.More())
}

// Independent sorters sharing one temp directory must not interfere.
func TestConcurrentSorters(t *testing.T) {
	dir := t.TempDir()
	const sorters = 4

	done := make(chan error, sorters)
	for g := 0; g < sorters; g++ {
		go func(seed int64) {
			opts := sorter.SortOptions{
				MaxMemoryUsageBytes: 32 * pairMemUsage,
				ExtSortAllowed:      true,
				TempDir:             dir,
			}
			codec := int64Codec()
			s, err := sorter.New(opts, ascByKey, codec, codec)
			if err != nil {
				done <- err
				return
			}
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 2000; i++ {
				if err := s.Add(rng.Int63(), int64(i)); err != nil {
					done <- err
					return
				}
			}
			it, err := s.Done()
			if err != nil {
				done <- err
				return
			}
			defer it.Close()
			var prev int64 = -1
			for it.More() {
				kv, err := it.Next()
				if err != nil {
					done <- err
					return
				}
				if kv.Key < prev {
					done <- assert.AnError
					return
				}
				prev = kv.Key
			}
			done <- nil
		}(int64(g))
	}
	for g := 0; g < sorters; g++ {
		require.NoError(t, <-done)
	}
	requireNoTempFiles(t, dir)
}

func TestMemUsedDiagnostic(t *testing.T) {
	s := newInt64Sorter(t, sorter.DefaultSortOptions())
	require.Equal(t, 0, s.MemUsed())
	require.NoError(t, s.Add(1, 1))
	require.Equal(t, pairMemUsage, s.MemUsed())
	require.NoError(t, s.Add(2, 2))
	require.Equal(t, 2*pairMemUsage, s.MemUsed())

	it, err := s.Done()
	require.NoError(t, err)
	defer it.Close()
	require.Equal(t, 0, s.MemUsed())
}
