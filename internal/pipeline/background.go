package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"
)

// Background is a process-wide group for detached tasks such as notification.
// Tasks get a context that outlives the request that started them and is
// canceled only when a drain gives up.
type Background struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      conc.WaitGroup
	mu      sync.RWMutex
	closed  bool
	pending atomic.Int64
	logger  *slog.Logger
}

// NewBackground creates an empty task group
func NewBackground(logger *slog.Logger) *Background {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Background{ctx: ctx, cancel: cancel, logger: logger}
}

// Go starts fn as a detached task. It returns false once the group is draining.
func (b *Background) Go(name string, fn func(ctx context.Context)) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.logger.Warn("background group closed, task dropped", slog.String("task", name))
		return false
	}

	b.pending.Add(1)
	b.wg.Go(func() {
		defer b.pending.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("background task panicked", slog.String("task", name), slog.String("panic", fmt.Sprint(r)))
			}
		}()
		fn(b.ctx)
	})
	return true
}

// Pending returns the number of tasks still running
func (b *Background) Pending() int {
	return int(b.pending.Load())
}

// Drain stops accepting tasks and waits for running ones until ctx is done.
// If ctx ends first the remaining tasks are canceled, waited for, and the
// context error is returned.
func (b *Background) Drain(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.cancel()
		return nil
	case <-ctx.Done():
		abandoned := b.Pending()
		b.cancel()
		<-done
		b.logger.Warn("background tasks canceled at shutdown", slog.Int("tasks", abandoned))
		return ctx.Err()
	}
}
