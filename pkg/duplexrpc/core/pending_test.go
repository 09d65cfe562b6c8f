package core

import (
	"errors"
	"testing"
)

func TestPendingTable_CompleteDeliversOnce(t *testing.T) {
	table := NewPendingTable()
	op, ch := table.Allocate()

	if !table.Complete(op, "result", nil) {
		t.Fatalf("expected Complete to find the pending operation")
	}
	if table.Complete(op, "result", nil) {
		t.Fatalf("expected second Complete for the same op to report false")
	}

	res := <-ch
	if res.Value != "result" || res.Err != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestPendingTable_CompleteUnknownIsFalse(t *testing.T) {
	table := NewPendingTable()
	if table.Complete(42, nil, nil) {
		t.Fatalf("expected Complete on an unknown id to report false")
	}
}

func TestPendingTable_FailAllCompletesEveryPending(t *testing.T) {
	table := NewPendingTable()
	const n = 5
	chans := make([]<-chan pendingResult, n)
	for i := 0; i < n; i++ {
		_, ch := table.Allocate()
		chans[i] = ch
	}

	cause := errors.New("disconnected")
	table.FailAll(cause)

	for i, ch := range chans {
		res := <-ch
		if res.Err != cause {
			t.Fatalf("op %d: expected cause error, got %v", i, res.Err)
		}
	}
	if table.Len() != 0 {
		t.Fatalf("expected table to be empty after FailAll, got %d", table.Len())
	}
}

func TestPendingTable_IDsRecycle(t *testing.T) {
	table := NewPendingTable()
	op1, _ := table.Allocate()
	table.Complete(op1, nil, nil)

	op2, _ := table.Allocate()
	if op1 != op2 {
		t.Fatalf("expected freed operation id %v to be recycled, got %v", op1, op2)
	}
}
