// Package provision moves bytes between remote URIs and session execution
// units: HTTP fetch and upload, tar wrapping and extraction, and a bounded
// pipe between the two ends of every transfer.
package provision

import (
	"context"
	"errors"
	"io"

	"github.com/docker/go-units"
	"golang.org/x/sync/errgroup"
)

const (
	ChunkSize = 32 * units.KiB
	PipeDepth = 16
)

// SinkFunc consumes a stream. It must return once r reports EOF or an error.
type SinkFunc func(ctx context.Context, r io.Reader) error

// Stream copies src into sink through a channel holding at most PipeDepth
// chunks, so a slow sink stalls the reads from src instead of buffering them.
// If either side fails, the other side's context is cancelled. A src that is
// also an io.Closer is closed when the sink fails or returns early, so a Read
// that ignores ctx cannot keep Stream from returning.
func Stream(ctx context.Context, src io.Reader, sink SinkFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	chunks := make(chan []byte, PipeDepth)
	sinkDone := make(chan struct{})
	cr := &chunkReader{ctx: gctx, chunks: chunks}

	g.Go(func() error {
		err := produce(gctx, src, chunks, sinkDone)
		cr.srcErr = err
		close(chunks)
		return err
	})
	g.Go(func() error {
		defer close(sinkDone)
		return sink(gctx, cr)
	})
	return g.Wait()
}

func produce(ctx context.Context, src io.Reader, chunks chan<- []byte, sinkDone <-chan struct{}) error {
	if c, ok := src.(io.Closer); ok {
		stop := closeOnDone(ctx, sinkDone, c)
		defer stop()
	}
	for {
		buf := make([]byte, ChunkSize)
		n, err := src.Read(buf)
		if n > 0 {
			select {
			case chunks <- buf[:n]:
			case <-sinkDone:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// closeOnDone closes c once ctx is cancelled or the sink has returned. The
// returned stop func disarms it and waits for the watcher to exit.
func closeOnDone(ctx context.Context, sinkDone <-chan struct{}, c io.Closer) func() {
	finished := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
		case <-sinkDone:
		case <-finished:
			return
		}
		c.Close()
	}()
	return func() {
		close(finished)
		<-exited
	}
}

// chunkReader is the consuming end of Stream.
type chunkReader struct {
	ctx    context.Context
	chunks <-chan []byte
	cur    []byte
	// srcErr is written by the producer before chunks is closed.
	srcErr error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.cur) == 0 {
		select {
		case chunk, ok := <-r.chunks:
			if !ok {
				if r.srcErr != nil {
					return 0, r.srcErr
				}
				return 0, io.EOF
			}
			r.cur = chunk
		case <-r.ctx.Done():
			return 0, r.ctx.Err()
		}
	}
	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	return n, nil
}
