package definition

import (
	"sync"

	"github.com/jabolina/duplexrpc/pkg/duplexrpc/types"
)

// GoroutineScheduler is the default types.Scheduler: every Schedule call
// is a tracked goroutine (Schedule increments a WaitGroup, the goroutine
// decrements it on return, Drain waits for all of them).
type GoroutineScheduler struct {
	group sync.WaitGroup
}

// NewGoroutineScheduler returns the Scheduler used when an Endpoint is not
// given one explicitly: a fresh goroutine per continuation, the idiomatic
// Go stand-in for dispatching onto "whatever context the caller is
// running in".
func NewGoroutineScheduler() *GoroutineScheduler {
	return &GoroutineScheduler{}
}

func (s *GoroutineScheduler) Schedule(fn func()) {
	s.group.Add(1)
	go func() {
		defer s.group.Done()
		fn()
	}()
}

func (s *GoroutineScheduler) Drain() {
	s.group.Wait()
}

var _ types.Scheduler = (*GoroutineScheduler)(nil)
