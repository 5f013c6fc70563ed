package loader

import (
	"context"
	"fmt"
)

// DefaultBatchSize is the number of rows written per flush.
const DefaultBatchSize = 1000

// FlushFunc writes one batch of rows and returns how many were stored.
type FlushFunc func(ctx context.Context, rows [][]any) (int64, error)

// Batcher groups rows into fixed-size batches and flushes each full batch;
// Flush writes the final partial batch.
type Batcher struct {
	size      int
	rows      [][]any
	flush     FlushFunc
	attempted int64
	stored    int64
	flushes   int
}

// NewBatcher creates a batcher. Sizes below one fall back to DefaultBatchSize.
func NewBatcher(size int, flush FlushFunc) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Batcher{
		size:  size,
		rows:  make([][]any, 0, size),
		flush: flush,
	}
}

// Add appends a row, flushing when the batch is full.
func (b *Batcher) Add(ctx context.Context, row []any) error {
	b.rows = append(b.rows, row)
	if len(b.rows) >= b.size {
		return b.Flush(ctx)
	}
	return nil
}

// Flush writes any buffered rows.
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.rows) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	n, err := b.flush(ctx, b.rows)
	b.attempted += int64(len(b.rows))
	b.stored += n
	b.flushes++
	b.rows = b.rows[:0]
	if err != nil {
		return fmt.Errorf("batch %d: %w", b.flushes, err)
	}
	return nil
}

// Attempted returns the number of rows handed to FlushFunc.
func (b *Batcher) Attempted() int64 { return b.attempted }

// Stored returns the number of rows FlushFunc reported as stored.
func (b *Batcher) Stored() int64 { return b.stored }

// Flushes returns how many batches were written.
func (b *Batcher) Flushes() int { return b.flushes }
