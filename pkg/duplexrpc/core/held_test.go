package core

import (
	"reflect"
	"testing"

	"github.com/jabolina/duplexrpc/pkg/duplexrpc/types"
)

func TestHeldObjectTable_InstallRoot(t *testing.T) {
	table := NewHeldObjectTable(0)
	root := &struct{ N int }{N: 1}
	table.InstallRoot(root)

	got, ok := table.Retrieve(types.BootstrapRootID)
	if !ok || got != root {
		t.Fatalf("expected root at BootstrapRootID, got %v, %v", got, ok)
	}
	if table.Len() != 1 {
		t.Fatalf("expected 1 held object, got %d", table.Len())
	}
}

func TestHeldObjectTable_RegisterForSendReusesID(t *testing.T) {
	table := NewHeldObjectTable(0)
	obj := &struct{ N int }{N: 2}

	id1, err := table.RegisterForSend(obj)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := table.RegisterForSend(obj)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected the same ObjectID for repeated sends of the same value, got %v and %v", id1, id2)
	}

	// Two sends, so Release(1) should not yet drop the entry.
	table.Release(id1, 1)
	if _, ok := table.Retrieve(id1); !ok {
		t.Fatalf("object should still be held after releasing only one of two sends")
	}
	table.Release(id1, 1)
	if _, ok := table.Retrieve(id1); ok {
		t.Fatalf("object should be gone after releasing both sends")
	}
}

func TestHeldObjectTable_ReleaseUnknownIsNoOp(t *testing.T) {
	table := NewHeldObjectTable(0)
	table.Release(types.ObjectID(99), 1) // must not panic
}

func TestHeldObjectTable_OverflowRejected(t *testing.T) {
	table := NewHeldObjectTable(1)
	if _, err := table.RegisterForSend(&struct{}{}); err != nil {
		t.Fatalf("unexpected error filling capacity: %v", err)
	}
	if _, err := table.RegisterForSend(&struct{}{}); err != types.ErrOverflow {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestHeldObjectTable_UnhashableValuesStillWork(t *testing.T) {
	table := NewHeldObjectTable(0)
	type withSlice struct {
		items []int
	}
	// A bare struct value containing a slice is not a valid map key; the
	// table must still be able to hold and retrieve it.
	obj := withSlice{items: []int{1, 2, 3}}

	id, err := table.RegisterForSend(obj)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := table.Retrieve(id)
	if !ok || !reflect.DeepEqual(got, obj) {
		t.Fatalf("expected to retrieve the registered value, got %v, %v", got, ok)
	}
}

func TestHeldObjectTable_IDsRecycleAfterRelease(t *testing.T) {
	table := NewHeldObjectTable(0)
	a := &struct{ tag string }{"a"}
	b := &struct{ tag string }{"b"}

	idA, _ := table.RegisterForSend(a)
	table.Release(idA, 1)

	idB, err := table.RegisterForSend(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idB != idA {
		t.Fatalf("expected freed id %v to be recycled, got %v", idA, idB)
	}
}
