package core

import (
	"fmt"

	"github.com/jabolina/duplexrpc/pkg/duplexrpc/types"
)

// Sender is the narrow channel-sending surface the Dispatcher needs; both
// ReliableChannel and a per-peer unreliable destination satisfy it for
// their respective message kinds.
type Sender interface {
	Send(msg *types.Message) error
}

// Dispatcher is C6: decodes nothing itself (that already happened in
// ReadFrame/the datagram decode) but routes an already-decoded Message to
// the handler for its Kind, the same tag-switch-over-message-kind shape
// common to request/response engines.
type Dispatcher struct {
	Held       *HeldObjectTable
	Pending    *PendingTable
	Binder     types.Binder
	Scheduler  types.Scheduler
	Executor   *Executor
	Logger     types.Logger
	Translator types.RefTranslator

	// Fault is invoked when a peer message violates the protocol in a
	// way that can only be resolved by terminating the connection (an
	// over-crediting Release). May be nil, in which case such violations
	// are only logged.
	Fault func(error)
}

func (d *Dispatcher) fault(err error) {
	if d.Fault != nil {
		d.Fault(err)
	}
}

// HandleReliable routes one message received on the reliable channel.
// reply is nil for messages that never expect one (Release).
func (d *Dispatcher) HandleReliable(msg *types.Message, reply Sender) {
	switch msg.Kind {
	case types.KindCallMethod:
		d.handleInvocation(msg, reply, false)
	case types.KindGetProperty:
		d.handleGetProperty(msg, reply)
	case types.KindSetProperty:
		d.handleSetProperty(msg, reply)
	case types.KindGetIndexer:
		d.handleGetIndexer(msg, reply)
	case types.KindSetIndexer:
		d.handleSetIndexer(msg, reply)
	case types.KindReturnMethod, types.KindReturnProperty, types.KindReturnIndexer:
		d.handleReply(msg)
	case types.KindRelease:
		if err := d.Held.Release(msg.Target, msg.ReleaseCount); err != nil {
			d.Logger.Warnf("dispatcher: Release(%v, %d) violates send-count: %v", msg.Target, msg.ReleaseCount, err)
			d.fault(err)
		}
	default:
		d.Logger.Warnf("dispatcher: unknown reliable message kind %v", msg.Kind)
	}
}

// HandleUnreliable routes one message received on the unreliable channel.
// Only CallMethodUnreliable is valid here; any error from running the
// body is swallowed: callers opted out of feedback when they chose the
// unreliable path.
func (d *Dispatcher) HandleUnreliable(msg *types.Message) {
	if msg.Kind != types.KindCallMethodUnreliable {
		d.Logger.Warnf("dispatcher: unexpected unreliable message kind %v", msg.Kind)
		return
	}
	d.handleInvocation(msg, nil, true)
}

func (d *Dispatcher) lookupTarget(id types.ObjectID) (interface{}, bool) {
	return d.Held.Retrieve(id)
}

func (d *Dispatcher) accessDenied(id types.ObjectID) *types.RemoteError {
	return &types.RemoteError{
		TypeName: "AccessDenied",
		Message:  fmt.Sprintf("this endpoint does not hold object %v", id),
		Source:   "duplexrpc",
	}
}

func (d *Dispatcher) handleInvocation(msg *types.Message, reply Sender, unreliable bool) {
	target, ok := d.lookupTarget(msg.Target)
	if !ok {
		if !unreliable {
			d.replyMethod(reply, msg.OperationID, nil, d.accessDenied(msg.Target))
		}
		return
	}

	data, _, ok := d.Binder.GetLocalData(target)
	if !ok {
		if !unreliable {
			d.replyMethod(reply, msg.OperationID, nil, d.accessDenied(msg.Target))
		}
		return
	}
	invoke, ok := data.Methods[msg.MethodID]
	if !ok {
		if !unreliable {
			d.replyMethod(reply, msg.OperationID, nil, d.accessDenied(msg.Target))
		}
		return
	}

	args, err := d.translateIn(msg.Args)
	if err != nil {
		if !unreliable {
			d.replyMethod(reply, msg.OperationID, nil, types.NewRemoteError("duplexrpc", "", err))
		}
		return
	}

	d.Executor.Run(func() (interface{}, error) {
		return invoke(target, args, msg.Generics)
	}, func(result interface{}, invokeErr error) {
		if unreliable {
			if invokeErr != nil {
				d.Logger.Warnf("unreliable call to %v.%v failed (no reply sent): %v", msg.Target, msg.MethodID, invokeErr)
			}
			return
		}
		if invokeErr != nil {
			d.replyMethod(reply, msg.OperationID, nil, types.NewRemoteError("duplexrpc", "", invokeErr))
			return
		}
		wire, wireErr := d.translateOut(result)
		if wireErr != nil {
			d.replyMethod(reply, msg.OperationID, nil, types.NewRemoteError("duplexrpc", "", wireErr))
			return
		}
		d.replyMethod(reply, msg.OperationID, wire, nil)
	})
}

func (d *Dispatcher) handleGetProperty(msg *types.Message, reply Sender) {
	d.handleAccessor(msg, reply, func(accessor types.Accessor, target interface{}) (interface{}, error) {
		return accessor.GetValue(target, nil)
	})
}

func (d *Dispatcher) handleSetProperty(msg *types.Message, reply Sender) {
	value, err := d.translateValueIn(msg.Value)
	if err != nil {
		d.replyProperty(reply, msg.OperationID, nil, types.NewRemoteError("duplexrpc", "", err))
		return
	}
	d.handleAccessor(msg, reply, func(accessor types.Accessor, target interface{}) (interface{}, error) {
		return nil, accessor.SetValue(target, value, nil)
	})
}

func (d *Dispatcher) handleGetIndexer(msg *types.Message, reply Sender) {
	index, err := d.translateIn(msg.Index)
	if err != nil {
		d.replyIndexer(reply, msg.OperationID, nil, types.NewRemoteError("duplexrpc", "", err))
		return
	}
	d.handleIndexerAccessor(msg, reply, func(accessor types.Accessor, target interface{}) (interface{}, error) {
		return accessor.GetValue(target, index)
	})
}

func (d *Dispatcher) handleSetIndexer(msg *types.Message, reply Sender) {
	index, err := d.translateIn(msg.Index)
	if err != nil {
		d.replyIndexer(reply, msg.OperationID, nil, types.NewRemoteError("duplexrpc", "", err))
		return
	}
	value, err := d.translateValueIn(msg.Value)
	if err != nil {
		d.replyIndexer(reply, msg.OperationID, nil, types.NewRemoteError("duplexrpc", "", err))
		return
	}
	d.handleIndexerAccessor(msg, reply, func(accessor types.Accessor, target interface{}) (interface{}, error) {
		return nil, accessor.SetValue(target, value, index)
	})
}

func (d *Dispatcher) handleAccessor(msg *types.Message, reply Sender, run func(types.Accessor, interface{}) (interface{}, error)) {
	target, ok := d.lookupTarget(msg.Target)
	if !ok {
		d.replyProperty(reply, msg.OperationID, nil, d.accessDenied(msg.Target))
		return
	}
	data, _, ok := d.Binder.GetLocalData(target)
	if !ok {
		d.replyProperty(reply, msg.OperationID, nil, d.accessDenied(msg.Target))
		return
	}
	accessor, ok := data.Properties[msg.PropertyID]
	if !ok {
		d.replyProperty(reply, msg.OperationID, nil, d.accessDenied(msg.Target))
		return
	}
	d.Executor.Run(func() (interface{}, error) {
		return run(accessor, target)
	}, func(result interface{}, err error) {
		if err != nil {
			d.replyProperty(reply, msg.OperationID, nil, types.NewRemoteError("duplexrpc", "", err))
			return
		}
		wireVal, err := d.translateOut(result)
		if err != nil {
			d.replyProperty(reply, msg.OperationID, nil, types.NewRemoteError("duplexrpc", "", err))
			return
		}
		d.replyProperty(reply, msg.OperationID, wireVal, nil)
	})
}

func (d *Dispatcher) handleIndexerAccessor(msg *types.Message, reply Sender, run func(types.Accessor, interface{}) (interface{}, error)) {
	target, ok := d.lookupTarget(msg.Target)
	if !ok {
		d.replyIndexer(reply, msg.OperationID, nil, d.accessDenied(msg.Target))
		return
	}
	data, _, ok := d.Binder.GetLocalData(target)
	if !ok {
		d.replyIndexer(reply, msg.OperationID, nil, d.accessDenied(msg.Target))
		return
	}
	accessor, ok := data.Properties[msg.PropertyID]
	if !ok {
		d.replyIndexer(reply, msg.OperationID, nil, d.accessDenied(msg.Target))
		return
	}
	d.Executor.Run(func() (interface{}, error) {
		return run(accessor, target)
	}, func(result interface{}, err error) {
		if err != nil {
			d.replyIndexer(reply, msg.OperationID, nil, types.NewRemoteError("duplexrpc", "", err))
			return
		}
		wireVal, err := d.translateOut(result)
		if err != nil {
			d.replyIndexer(reply, msg.OperationID, nil, types.NewRemoteError("duplexrpc", "", err))
			return
		}
		d.replyIndexer(reply, msg.OperationID, wireVal, nil)
	})
}

func (d *Dispatcher) handleReply(msg *types.Message) {
	if msg.Error != nil {
		d.Pending.Complete(msg.OperationID, nil, msg.Error)
		return
	}
	value, err := d.translateValueIn(msg.Result)
	if err != nil {
		d.Pending.Complete(msg.OperationID, nil, err)
		return
	}
	d.Scheduler.Schedule(func() {
		d.Pending.Complete(msg.OperationID, value, nil)
	})
}

func (d *Dispatcher) replyMethod(reply Sender, op types.OperationID, result interface{}, remoteErr *types.RemoteError) {
	if reply == nil {
		return
	}
	err := reply.Send(&types.Message{Kind: types.KindReturnMethod, OperationID: op, Result: result, Error: remoteErr})
	if err != nil {
		d.Logger.Warnf("dispatcher: failed sending ReturnMethod reply: %v", err)
	}
}

func (d *Dispatcher) replyProperty(reply Sender, op types.OperationID, result interface{}, remoteErr *types.RemoteError) {
	if reply == nil {
		return
	}
	err := reply.Send(&types.Message{Kind: types.KindReturnProperty, OperationID: op, Result: result, Error: remoteErr})
	if err != nil {
		d.Logger.Warnf("dispatcher: failed sending ReturnProperty reply: %v", err)
	}
}

func (d *Dispatcher) replyIndexer(reply Sender, op types.OperationID, result interface{}, remoteErr *types.RemoteError) {
	if reply == nil {
		return
	}
	err := reply.Send(&types.Message{Kind: types.KindReturnIndexer, OperationID: op, Result: result, Error: remoteErr})
	if err != nil {
		d.Logger.Warnf("dispatcher: failed sending ReturnIndexer reply: %v", err)
	}
}

// translateIn converts every types.SharedRef in a decoded slice into a
// live proxy, leaving ordinary values untouched.
func (d *Dispatcher) translateIn(values []interface{}) ([]interface{}, error) {
	if values == nil {
		return nil, nil
	}
	out := make([]interface{}, len(values))
	for i, v := range values {
		tv, err := d.translateValueIn(v)
		if err != nil {
			return nil, err
		}
		out[i] = tv
	}
	return out, nil
}

func (d *Dispatcher) translateValueIn(v interface{}) (interface{}, error) {
	ref, ok := v.(types.SharedRef)
	if !ok {
		return v, nil
	}
	return d.Translator.ResolveOrBuildProxy(ref)
}

// translateOut converts a shareable result into a types.SharedRef for the
// wire, leaving ordinary values untouched.
func (d *Dispatcher) translateOut(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if _, ok := d.Binder.TypeNameOf(v); !ok {
		return v, nil
	}
	ref, err := d.Translator.RegisterLocalForSend(v)
	if err != nil {
		return nil, err
	}
	return ref, nil
}
