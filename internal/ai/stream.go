package ai

import (
	"context"
	"iter"
)

// ChunkFunc receives one streamed fragment. Returning an error aborts generation.
type ChunkFunc func(ctx context.Context, chunk []byte) error

// streamCallback adapts a callback style streaming call into a pull sequence.
// run executes on its own goroutine; breaking out of the sequence cancels its context
// and waits for it to return.
func streamCallback(ctx context.Context, run func(ctx context.Context, onChunk ChunkFunc) error) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		chunks := make(chan string)
		done := make(chan error, 1)
		go func() {
			defer close(chunks)
			done <- run(ctx, func(ctx context.Context, chunk []byte) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				if len(chunk) == 0 {
					return nil
				}
				select {
				case chunks <- string(chunk):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		}()

		for chunk := range chunks {
			if !yield(chunk, nil) {
				cancel()
				for range chunks {
				}
				return
			}
		}
		if err := <-done; err != nil {
			yield("", err)
		}
	}
}
