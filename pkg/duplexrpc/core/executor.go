package core

import (
	"fmt"
	"runtime"

	"github.com/jabolina/duplexrpc/pkg/duplexrpc/types"
)

// Executor is C7: runs one inbound invocation body on the caller-selected
// Scheduler, recovering a panic into an error so a misbehaving method
// body fails its one call instead of killing a shared goroutine.
type Executor struct {
	Scheduler types.Scheduler
}

// Run schedules fn and calls done with its result once fn returns (or
// panics). done itself runs on the Scheduler, same as fn.
func (e *Executor) Run(fn func() (interface{}, error), done func(interface{}, error)) {
	e.Scheduler.Schedule(func() {
		done(e.runGuarded(fn))
	})
}

func (e *Executor) runGuarded(fn func() (interface{}, error)) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			err = fmt.Errorf("panic in invocation body: %v\n%s", r, buf[:n])
		}
	}()
	return fn()
}
