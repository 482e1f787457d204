package redis

import (
	"context"
	"log"
	"sync"

	"ta-enginev1/internal/model"
)

// BufferedWriter wraps a Redis Writer with a circuit breaker.
// During circuit-open state, output results are buffered locally and
// flushed when the circuit closes again.
type BufferedWriter struct {
	writer *Writer
	cb     *CircuitBreaker
	ctx    context.Context

	mu     sync.Mutex
	buffer []model.OutputResult
	maxBuf int // max buffered results before dropping oldest

	// Callbacks
	OnBuffer func(count int) // called when results are buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered results
}

// NewBufferedWriter creates a BufferedWriter wrapping the given Writer.
func NewBufferedWriter(ctx context.Context, w *Writer, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		writer: w,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]model.OutputResult, 0, 256),
		maxBuf: maxBufferSize,
	}

	// Register flush on circuit close
	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}

	return bw
}

// WriteOutputs writes an output batch through the circuit breaker.
// If the circuit is open, the batch is buffered locally.
func (bw *BufferedWriter) WriteOutputs(results []model.OutputResult) error {
	err := bw.cb.Execute(func() error {
		return bw.writer.WriteOutputBatch(bw.ctx, results)
	})
	if err == ErrCircuitOpen {
		bw.bufferResults(results)
		return nil // buffered, not lost
	}
	return err
}

func (bw *BufferedWriter) bufferResults(results []model.OutputResult) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	for _, r := range results {
		if len(bw.buffer) >= bw.maxBuf {
			// Buffer full — drop oldest
			bw.buffer = bw.buffer[1:]
		}
		bw.buffer = append(bw.buffer, r)
	}

	if bw.OnBuffer != nil {
		bw.OnBuffer(len(results))
	}
}

// flush replays all buffered results through the underlying writer.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	// Take ownership of the buffer
	toFlush := bw.buffer
	bw.buffer = make([]model.OutputResult, 0, 256)
	bw.mu.Unlock()

	if err := bw.writer.WriteOutputBatch(bw.ctx, toFlush); err != nil {
		log.Printf("[buffered-writer] flush error (%d results): %v", len(toFlush), err)
		return
	}

	log.Printf("[buffered-writer] flushed %d buffered results", len(toFlush))
	if bw.OnFlush != nil {
		bw.OnFlush(len(toFlush))
	}
}

// PendingCount returns the number of buffered results waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Underlying returns the wrapped Redis writer for direct access.
func (bw *BufferedWriter) Underlying() *Writer {
	return bw.writer
}
