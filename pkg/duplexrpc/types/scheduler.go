package types

// Scheduler is the RemoteTaskScheduler collaborator: every piece of
// user-visible work (public API invocations, reply completions, inbound
// invocation bodies) is run through it so that arbitrary user code never
// executes on a channel's reader goroutine.
type Scheduler interface {
	// Schedule runs fn asynchronously with respect to the caller.
	Schedule(fn func())

	// Drain blocks until every fn passed to Schedule has returned. Used
	// during teardown to avoid leaking goroutines past Disconnect.
	Drain()
}
