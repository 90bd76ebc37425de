// Command kvsort externally sorts tab-separated key/value lines.
//
// Each input line is "key<TAB>value" (a line without a tab sorts on the whole
// line with an empty value). Lines are sorted by key bytes within a bounded
// memory budget, spilling sorted runs to temporary files as needed, and
// written back out in order.
package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cinderkv/sorter"
)

var (
	maxMemory int
	limit     int
	tmpDir    string
	reverse   bool
	noSpill   bool
	verbose   bool
)

func main() {
	root := &cobra.Command{
		Use:   "kvsort [file]",
		Short: "externally sort tab-separated key/value lines",
		Args:  cobra.MaximumNArgs(1),
		RunE:  run,

		SilenceUsage: true,
	}
	root.Flags().IntVar(&maxMemory, "max-memory", 64<<20, "in-memory buffer budget in bytes")
	root.Flags().IntVar(&limit, "limit", 0, "emit only the first N lines of the sorted output (0 = all)")
	root.Flags().StringVar(&tmpDir, "tmp-dir", "", "directory for spilled runs (default: OS temp dir)")
	root.Flags().BoolVar(&reverse, "reverse", false, "sort in descending key order")
	root.Flags().BoolVar(&noSpill, "no-spill", false, "fail instead of spilling to disk when over budget")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "log spill and merge activity")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	in := io.Reader(os.Stdin)
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	logger := zap.NewNop()
	if verbose {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
	}

	opts := sorter.SortOptions{
		Limit:               limit,
		MaxMemoryUsageBytes: maxMemory,
		ExtSortAllowed:      !noSpill,
		TempDir:             tmpDir,
		Logger:              logger,
	}

	comp := func(a, b sorter.KV[[]byte, []byte]) sorter.Ordering {
		ord := sorter.Ordering(bytes.Compare(a.Key, b.Key))
		if reverse {
			ord = -ord
		}
		return ord
	}
	codec := sorter.BytesCodec()

	group, ctx := errgroup.WithContext(cmd.Context())
	input := make(chan sorter.KV[[]byte, []byte], 64)
	group.Go(func() error {
		defer close(input)
		return readPairs(ctx, in, input)
	})

	out, errChan := sorter.SortStream(ctx, input, comp, codec, codec, opts)
	group.Go(func() error {
		w := bufio.NewWriter(os.Stdout)
		for kv := range out {
			w.Write(kv.Key)
			if len(kv.Value) > 0 {
				w.WriteByte('\t')
				w.Write(kv.Value)
			}
			if err := w.WriteByte('\n'); err != nil {
				return err
			}
		}
		if err := <-errChan; err != nil {
			return err
		}
		return w.Flush()
	})

	return group.Wait()
}

// readPairs splits lines at the first tab and feeds them to the sorter.
// The scanner buffer is reused, so each line is cloned before it crosses the
// channel.
func readPairs(ctx context.Context, in io.Reader, input chan<- sorter.KV[[]byte, []byte]) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for scanner.Scan() {
		line := bytes.Clone(scanner.Bytes())
		key, value := line, []byte(nil)
		if i := bytes.IndexByte(line, '\t'); i >= 0 {
			key, value = line[:i], line[i+1:]
		}
		select {
		case input <- sorter.KV[[]byte, []byte]{Key: key, Value: value}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}
