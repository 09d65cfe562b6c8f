package types

import "fmt"

// Kind tags every message on the wire. Values are fixed once chosen; never
// renumber a shipped kind.
type Kind byte

const (
	KindCallMethod Kind = iota + 1
	KindReturnMethod
	KindCallMethodUnreliable
	KindGetProperty
	KindReturnProperty
	KindSetProperty
	KindGetIndexer
	KindSetIndexer
	KindReturnIndexer
	KindRelease
)

func (k Kind) String() string {
	switch k {
	case KindCallMethod:
		return "CallMethod"
	case KindReturnMethod:
		return "ReturnMethod"
	case KindCallMethodUnreliable:
		return "CallMethodUnreliable"
	case KindGetProperty:
		return "GetProperty"
	case KindReturnProperty:
		return "ReturnProperty"
	case KindSetProperty:
		return "SetProperty"
	case KindGetIndexer:
		return "GetIndexer"
	case KindSetIndexer:
		return "SetIndexer"
	case KindReturnIndexer:
		return "ReturnIndexer"
	case KindRelease:
		return "Release"
	default:
		return fmt.Sprintf("Kind(%d)", byte(k))
	}
}

// SharedRef is the wire representation of a shared-object reference: an
// ObjectID interpreted relative to the sender, plus the declared
// shared-interface type name. A Codec's job is to carry this struct
// transparently; translating between SharedRef and live Go values happens
// one layer up, in the dispatcher/request primitives, using the
// RegisterLocalForSend / ResolveOrBuildProxy / RetrieveLocal hooks.
type SharedRef struct {
	ObjectID ObjectID
	TypeName string
}

// Message is the envelope for every kind on the wire. Not every field is
// populated for every Kind.
type Message struct {
	Kind Kind

	Target      ObjectID
	MethodID    MethodID
	PropertyID  PropertyID
	Generics    []string
	Args        []interface{}
	Index       []interface{}
	Value       interface{}
	OperationID OperationID

	Result interface{}
	Error  *RemoteError

	ReleaseCount uint32
}

// RemoteError is the transparent struct carrying an exception raised by
// the peer's invocation body. It implements error so it can be returned
// directly to callers.
type RemoteError struct {
	TypeName string
	Message  string
	Stack    string
	Source   string
}

func (e *RemoteError) Error() string {
	if e == nil {
		return "<nil remote error>"
	}
	return fmt.Sprintf("%s: %s", e.TypeName, e.Message)
}

// NewRemoteError builds a RemoteError from a local Go error raised while
// running an inbound invocation body.
func NewRemoteError(source, stack string, err error) *RemoteError {
	return &RemoteError{
		TypeName: fmt.Sprintf("%T", err),
		Message:  err.Error(),
		Source:   source,
		Stack:    stack,
	}
}
