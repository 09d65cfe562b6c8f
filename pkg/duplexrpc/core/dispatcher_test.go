package core

import (
	"fmt"
	"sync"
	"testing"

	"github.com/jabolina/duplexrpc/pkg/duplexrpc/types"
)

// syncScheduler runs every Schedule call inline, making dispatcher tests
// deterministic without sleeps or goroutine synchronization.
type syncScheduler struct{}

func (syncScheduler) Schedule(fn func()) { fn() }
func (syncScheduler) Drain()             {}

type silentLogger struct{}

func (silentLogger) Info(v ...interface{})                 {}
func (silentLogger) Infof(format string, v ...interface{}) {}
func (silentLogger) Warn(v ...interface{})                 {}
func (silentLogger) Warnf(format string, v ...interface{}) {}
func (silentLogger) Error(v ...interface{})                {}
func (silentLogger) Errorf(format string, v ...interface{}) {
}
func (silentLogger) Debug(v ...interface{})                 {}
func (silentLogger) Debugf(format string, v ...interface{}) {}
func (silentLogger) Fatal(v ...interface{})                 {}
func (silentLogger) Fatalf(format string, v ...interface{}) {}
func (silentLogger) Panic(v ...interface{})                 {}
func (silentLogger) Panicf(format string, v ...interface{}) {}
func (silentLogger) ToggleDebug(bool) bool                  { return false }

// echoAccessor is a trivial types.Accessor used by fakeBinder's test
// descriptor.
type echoAccessor struct{ value *int }

func (a echoAccessor) GetValue(target interface{}, index []interface{}) (interface{}, error) {
	return *a.value, nil
}

func (a echoAccessor) SetValue(target interface{}, value interface{}, index []interface{}) error {
	n, ok := value.(int)
	if !ok {
		return fmt.Errorf("expected int, got %T", value)
	}
	*a.value = n
	return nil
}

// fakeBinder hands every target the same fixed descriptor: one method,
// "Echo", and one property accessor over a shared int.
type fakeBinder struct {
	value int
}

const testMethodEcho types.MethodID = 0
const testPropValue types.PropertyID = 0

func (b *fakeBinder) BuildProxy(typeName string, target types.ObjectID, invoker types.ProxyInvoker) (interface{}, error) {
	return nil, fmt.Errorf("not used by dispatcher tests")
}

func (b *fakeBinder) GetLocalData(obj interface{}) (*types.LocalData, string, bool) {
	return &types.LocalData{
		Methods: map[types.MethodID]types.Invokable{
			testMethodEcho: func(target interface{}, args []interface{}, generics []string) (interface{}, error) {
				if len(args) != 1 {
					return nil, fmt.Errorf("expected 1 arg, got %d", len(args))
				}
				return args[0], nil
			},
		},
		Properties: map[types.PropertyID]types.Accessor{
			testPropValue: echoAccessor{value: &b.value},
		},
	}, "test.Echo", true
}

func (b *fakeBinder) TypeNameOf(obj interface{}) (string, bool) {
	return "", false
}

// fakeSender records every message handed to Send.
type fakeSender struct {
	mu  sync.Mutex
	out []*types.Message
}

func (s *fakeSender) Send(msg *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, msg)
	return nil
}

func (s *fakeSender) last() *types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.out) == 0 {
		return nil
	}
	return s.out[len(s.out)-1]
}

type identityTranslator struct{}

func (identityTranslator) RegisterLocalForSend(obj interface{}) (types.SharedRef, error) {
	return types.SharedRef{}, fmt.Errorf("not used by dispatcher tests")
}

func (identityTranslator) ResolveOrBuildProxy(ref types.SharedRef) (interface{}, error) {
	return nil, fmt.Errorf("not used by dispatcher tests")
}

func (identityTranslator) RetrieveLocal(id types.ObjectID) (interface{}, bool) {
	return nil, false
}

func newTestDispatcher() (*Dispatcher, *HeldObjectTable) {
	held := NewHeldObjectTable(0)
	held.InstallRoot(&struct{}{})
	return &Dispatcher{
		Held:       held,
		Pending:    NewPendingTable(),
		Binder:     &fakeBinder{},
		Scheduler:  syncScheduler{},
		Executor:   &Executor{Scheduler: syncScheduler{}},
		Logger:     silentLogger{},
		Translator: identityTranslator{},
	}, held
}

func TestDispatcher_CallMethodUnknownTargetRepliesAccessDenied(t *testing.T) {
	d, _ := newTestDispatcher()
	sender := &fakeSender{}

	d.HandleReliable(&types.Message{
		Kind:        types.KindCallMethod,
		Target:      types.ObjectID(99),
		MethodID:    testMethodEcho,
		OperationID: 1,
	}, sender)

	reply := sender.last()
	if reply == nil || reply.Kind != types.KindReturnMethod {
		t.Fatalf("expected a ReturnMethod reply, got %+v", reply)
	}
	if reply.Error == nil {
		t.Fatalf("expected an AccessDenied error for an unknown target")
	}
}

func TestDispatcher_CallMethodSucceeds(t *testing.T) {
	d, _ := newTestDispatcher()
	sender := &fakeSender{}

	d.HandleReliable(&types.Message{
		Kind:        types.KindCallMethod,
		Target:      types.BootstrapRootID,
		MethodID:    testMethodEcho,
		Args:        []interface{}{"hi"},
		OperationID: 7,
	}, sender)

	reply := sender.last()
	if reply == nil || reply.Error != nil {
		t.Fatalf("expected a successful reply, got %+v", reply)
	}
	if reply.Result.(string) != "hi" {
		t.Fatalf("expected echoed result %q, got %v", "hi", reply.Result)
	}
	if reply.OperationID != 7 {
		t.Fatalf("expected the reply to carry the request's OperationID")
	}
}

func TestDispatcher_UnreliableCallNeverReplies(t *testing.T) {
	d, _ := newTestDispatcher()

	// HandleUnreliable is never handed a Sender; a nil reply must not
	// panic even on failure paths (unknown target).
	d.HandleUnreliable(&types.Message{
		Kind:     types.KindCallMethodUnreliable,
		Target:   types.ObjectID(42),
		MethodID: testMethodEcho,
	})
}

func TestDispatcher_PropertyRoundTrip(t *testing.T) {
	d, _ := newTestDispatcher()
	sender := &fakeSender{}

	d.HandleReliable(&types.Message{
		Kind:        types.KindSetProperty,
		Target:      types.BootstrapRootID,
		PropertyID:  testPropValue,
		Value:       9,
		OperationID: 1,
	}, sender)
	if reply := sender.last(); reply.Error != nil {
		t.Fatalf("SetProperty failed: %v", reply.Error)
	}

	d.HandleReliable(&types.Message{
		Kind:        types.KindGetProperty,
		Target:      types.BootstrapRootID,
		PropertyID:  testPropValue,
		OperationID: 2,
	}, sender)
	reply := sender.last()
	if reply.Error != nil {
		t.Fatalf("GetProperty failed: %v", reply.Error)
	}
	if reply.Result.(int) != 9 {
		t.Fatalf("expected 9, got %v", reply.Result)
	}
}

func TestDispatcher_ReleaseAppliesToHeldTable(t *testing.T) {
	d, held := newTestDispatcher()
	obj := &struct{ n int }{n: 1}
	id, err := held.RegisterForSend(obj)
	if err != nil {
		t.Fatalf("RegisterForSend: %v", err)
	}

	d.HandleReliable(&types.Message{Kind: types.KindRelease, Target: id, ReleaseCount: 1}, nil)

	if _, ok := held.Retrieve(id); ok {
		t.Fatalf("expected the object to be released")
	}
}

func TestDispatcher_ReleaseOverCreditingSignalsFault(t *testing.T) {
	d, held := newTestDispatcher()
	obj := &struct{ n int }{n: 1}
	id, err := held.RegisterForSend(obj)
	if err != nil {
		t.Fatalf("RegisterForSend: %v", err)
	}

	var faulted error
	d.Fault = func(err error) { faulted = err }

	d.HandleReliable(&types.Message{Kind: types.KindRelease, Target: id, ReleaseCount: 99}, nil)

	if faulted == nil {
		t.Fatalf("expected a Release crediting more than was ever sent to report a fault")
	}
	if _, ok := held.Retrieve(id); !ok {
		t.Fatalf("send-count must never go negative: the entry should survive an over-crediting Release")
	}
}
