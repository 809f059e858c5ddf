package deficit

import (
	"context"
	"sync"

	"github.com/warp/deficit-engine/generic"
)

// Guard keeps two settlement actions off the same record at once. Sink
// calls run outside the repository lock but inside the guard.
type Guard interface {
	// Acquire returns generic.ErrBusy if the record is already held.
	Acquire(ctx context.Context, id generic.RecordID) (release func(), err error)
}

// LocalGuard is a process-local Guard.
type LocalGuard struct {
	mu   sync.Mutex
	held map[generic.RecordID]struct{}
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{held: make(map[generic.RecordID]struct{})}
}

func (g *LocalGuard) Acquire(_ context.Context, id generic.RecordID) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.held[id]; ok {
		return nil, generic.ErrBusy
	}
	g.held[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, id)
			g.mu.Unlock()
		})
	}, nil
}

var _ Guard = (*LocalGuard)(nil)
