package main

import "context"

// IterationCounter sends an incrementing int64 on output, one per loop
// iteration across all services, until it has sent maxcount values or ctx
// is done. If maxcount is 0 it runs until ctx is done. It closes output
// when it returns, which stops every unit reading from it.
// It returns true if it stopped because ctx was done, false otherwise.
func IterationCounter(ctx context.Context, log Logger, maxcount int64, output chan<- int64) bool {
	var count int64

	defer func() {
		close(output)
		log.Info("iteration counter exiting after %d iterations\n", count)
	}()

	for {
		if maxcount > 0 && count >= maxcount {
			return false
		}
		select {
		case <-ctx.Done():
			return true
		case output <- count + 1:
			count++
		}
	}
}
