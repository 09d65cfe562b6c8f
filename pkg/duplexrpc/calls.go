package duplexrpc

import (
	"errors"
	"fmt"

	"github.com/jabolina/duplexrpc/pkg/duplexrpc/types"
)

// request sends one reliable message carrying a fresh OperationID and
// blocks for its reply. Every blocking primitive below is a thin wrapper
// around this.
func (e *Endpoint) request(build func(op types.OperationID) *types.Message) (interface{}, error) {
	if !e.Connected() {
		return nil, types.ErrDisconnected
	}
	op, ch := e.pending.Allocate()
	if err := e.reliable.Send(build(op)); err != nil {
		e.pending.Complete(op, nil, err)
		go e.teardown(err)
		return nil, err
	}
	res := <-ch
	return res.Value, res.Err
}

func (e *Endpoint) requestAsync(build func(op types.OperationID) *types.Message) <-chan CallResult {
	out := make(chan CallResult, 1)
	e.opts.Scheduler.Schedule(func() {
		value, err := e.request(build)
		out <- CallResult{Value: value, Err: err}
	})
	return out
}

// CallMethod invokes a method on an object the peer holds, blocking for
// the return value. It is the ProxyInvoker primitive a built proxy
// forwards method calls through.
func (e *Endpoint) CallMethod(target types.ObjectID, method types.MethodID, generics []string, args []interface{}) (interface{}, error) {
	wireArgs, err := e.translateOutSlice(args)
	if err != nil {
		return nil, err
	}
	return e.request(func(op types.OperationID) *types.Message {
		return &types.Message{Kind: types.KindCallMethod, Target: target, MethodID: method, Generics: generics, Args: wireArgs, OperationID: op}
	})
}

// CallMethodAsync is the non-blocking form of CallMethod.
func (e *Endpoint) CallMethodAsync(target types.ObjectID, method types.MethodID, generics []string, args []interface{}) <-chan CallResult {
	out := make(chan CallResult, 1)
	e.opts.Scheduler.Schedule(func() {
		value, err := e.CallMethod(target, method, generics, args)
		out <- CallResult{Value: value, Err: err}
	})
	return out
}

// CallMethodUnreliable fires a method call over the datagram channel and
// returns immediately: there is no reply, no OperationID, and no
// indication whether the peer ever received it.
func (e *Endpoint) CallMethodUnreliable(target types.ObjectID, method types.MethodID, generics []string, args []interface{}) {
	if !e.Connected() {
		return
	}
	wireArgs, err := e.translateOutSlice(args)
	if err != nil {
		e.opts.Logger.Warnf("duplexrpc: dropping unreliable call to %v.%v: %v", target, method, err)
		return
	}
	msg := &types.Message{Kind: types.KindCallMethodUnreliable, Target: target, MethodID: method, Generics: generics, Args: wireArgs}
	if sendErr := e.sendUnreliable(msg); sendErr != nil {
		e.opts.Logger.Warnf("duplexrpc: unreliable send to %v.%v failed: %v", target, method, sendErr)
	}
}

// sendUnreliable picks the datagram format matching what the peer's
// reader loop expects. An Endpoint that owns its unreliable socket (the
// dial side) talks to a peer that may be a Listener's shared socket
// demuxing by sender, so it prefixes with its own NetworkID. An Endpoint
// sharing a Listener's socket talks to a single dialer reading
// unprefixed datagrams, so it sends unprefixed.
func (e *Endpoint) sendUnreliable(msg *types.Message) error {
	if e.ownsUnreliable {
		return e.unreliable.SendToListener(e.peerUnreliableAddr, e.networkID, msg)
	}
	return e.unreliable.SendToClient(e.peerUnreliableAddr, msg)
}

func (e *Endpoint) GetProperty(target types.ObjectID, property types.PropertyID) (interface{}, error) {
	return e.request(func(op types.OperationID) *types.Message {
		return &types.Message{Kind: types.KindGetProperty, Target: target, PropertyID: property, OperationID: op}
	})
}

func (e *Endpoint) GetPropertyAsync(target types.ObjectID, property types.PropertyID) <-chan CallResult {
	return e.requestAsync(func(op types.OperationID) *types.Message {
		return &types.Message{Kind: types.KindGetProperty, Target: target, PropertyID: property, OperationID: op}
	})
}

func (e *Endpoint) SetProperty(target types.ObjectID, property types.PropertyID, value interface{}) error {
	wireValue, err := e.translateOutValue(value)
	if err != nil {
		return err
	}
	_, err = e.request(func(op types.OperationID) *types.Message {
		return &types.Message{Kind: types.KindSetProperty, Target: target, PropertyID: property, Value: wireValue, OperationID: op}
	})
	return err
}

func (e *Endpoint) SetPropertyAsync(target types.ObjectID, property types.PropertyID, value interface{}) <-chan CallResult {
	out := make(chan CallResult, 1)
	e.opts.Scheduler.Schedule(func() {
		out <- CallResult{Err: e.SetProperty(target, property, value)}
	})
	return out
}

func (e *Endpoint) GetIndexer(target types.ObjectID, property types.PropertyID, index []interface{}) (interface{}, error) {
	wireIndex, err := e.translateOutSlice(index)
	if err != nil {
		return nil, err
	}
	return e.request(func(op types.OperationID) *types.Message {
		return &types.Message{Kind: types.KindGetIndexer, Target: target, PropertyID: property, Index: wireIndex, OperationID: op}
	})
}

func (e *Endpoint) GetIndexerAsync(target types.ObjectID, property types.PropertyID, index []interface{}) <-chan CallResult {
	out := make(chan CallResult, 1)
	e.opts.Scheduler.Schedule(func() {
		value, err := e.GetIndexer(target, property, index)
		out <- CallResult{Value: value, Err: err}
	})
	return out
}

func (e *Endpoint) SetIndexer(target types.ObjectID, property types.PropertyID, value interface{}, index []interface{}) error {
	wireValue, err := e.translateOutValue(value)
	if err != nil {
		return err
	}
	wireIndex, err := e.translateOutSlice(index)
	if err != nil {
		return err
	}
	_, err = e.request(func(op types.OperationID) *types.Message {
		return &types.Message{Kind: types.KindSetIndexer, Target: target, PropertyID: property, Value: wireValue, Index: wireIndex, OperationID: op}
	})
	return err
}

func (e *Endpoint) SetIndexerAsync(target types.ObjectID, property types.PropertyID, value interface{}, index []interface{}) <-chan CallResult {
	out := make(chan CallResult, 1)
	e.opts.Scheduler.Schedule(func() {
		out <- CallResult{Err: e.SetIndexer(target, property, value, index)}
	})
	return out
}

// ReleaseProxy credits count references to target back to the owner by
// sending a Release message. RemoteProxyTable does not go through this
// method: its release callback is onProxyReleased, which it calls
// directly when a Proxy's last reference disappears.
func (e *Endpoint) ReleaseProxy(target types.ObjectID, count uint32) {
	e.onProxyReleased(target, count)
}

// RegisterLocalForSend implements types.RefTranslator: obj is about to
// cross the wire outward, so it needs a stable ObjectID the peer can
// reference it by.
func (e *Endpoint) RegisterLocalForSend(obj interface{}) (types.SharedRef, error) {
	typeName, ok := e.opts.Binder.TypeNameOf(obj)
	if !ok {
		return types.SharedRef{}, fmt.Errorf("duplexrpc: %T is not registered as a shareable type", obj)
	}
	id, err := e.held.RegisterForSend(obj)
	if err != nil {
		if errors.Is(err, types.ErrOverflow) {
			go e.teardown(err)
		}
		return types.SharedRef{}, err
	}
	return types.SharedRef{ObjectID: id, TypeName: typeName}, nil
}

// ResolveOrBuildProxy implements types.RefTranslator: ref just arrived
// from the peer, return the live proxy for it, building one the first
// time this ObjectID is seen.
//
// The *core.Proxy handle ResolveOrBuild returns carries the finalizer
// backstop that eventually credits the owner; if it were just discarded
// here, nothing would keep it reachable and it could be collected (and
// its credit sent) on the very next GC cycle, while the caller is still
// actively using the value it just got back. When the value supports
// types.ProxyLifetime, hand it its own handle so the handle's lifetime
// tracks the value's instead of this function's stack frame.
func (e *Endpoint) ResolveOrBuildProxy(ref types.SharedRef) (interface{}, error) {
	proxy, err := e.proxies.ResolveOrBuild(ref.ObjectID, func() (interface{}, error) {
		return e.opts.Binder.BuildProxy(ref.TypeName, ref.ObjectID, e)
	})
	if err != nil {
		if errors.Is(err, types.ErrOverflow) {
			go e.teardown(err)
		}
		return nil, err
	}
	if owner, ok := proxy.Value.(types.ProxyLifetime); ok {
		owner.AttachHandle(proxy)
	}
	return proxy.Value, nil
}

// RetrieveLocal implements types.RefTranslator.
func (e *Endpoint) RetrieveLocal(id types.ObjectID) (interface{}, bool) {
	return e.held.Retrieve(id)
}

func (e *Endpoint) translateOutValue(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if _, ok := e.opts.Binder.TypeNameOf(v); !ok {
		return v, nil
	}
	return e.RegisterLocalForSend(v)
}

func (e *Endpoint) translateOutSlice(values []interface{}) ([]interface{}, error) {
	if values == nil {
		return nil, nil
	}
	out := make([]interface{}, len(values))
	for i, v := range values {
		tv, err := e.translateOutValue(v)
		if err != nil {
			return nil, err
		}
		out[i] = tv
	}
	return out, nil
}

var _ types.ProxyInvoker = (*Endpoint)(nil)
var _ types.RefTranslator = (*Endpoint)(nil)
