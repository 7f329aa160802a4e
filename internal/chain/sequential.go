package chain

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/metrics"
)

// SequentialReader provides ReadBatch on top of a reader that cannot batch.
// Concurrency 1 issues the reads strictly one after another.
type SequentialReader struct {
	reader      SingleReader
	concurrency int
}

// NewSequentialReader wraps r; concurrency below 1 is treated as 1.
func NewSequentialReader(r SingleReader, concurrency int) *SequentialReader {
	if concurrency < 1 {
		concurrency = 1
	}
	return &SequentialReader{reader: r, concurrency: concurrency}
}

func (s *SequentialReader) Read(ctx context.Context, call Call) ([]any, error) {
	return s.reader.Read(ctx, call)
}

// ReadBatch fails as a whole on the first failed read.
func (s *SequentialReader) ReadBatch(ctx context.Context, calls []Call) ([][]any, error) {
	results := make([][]any, len(calls))
	if len(calls) == 0 {
		return results, nil
	}
	metrics.BatchSize.Observe(float64(len(calls)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := s.reader.Read(gctx, call)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.UpstreamFailures.WithLabelValues("sequential").Inc()
		return nil, err
	}
	return results, nil
}
