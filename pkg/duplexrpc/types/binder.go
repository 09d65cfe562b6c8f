package types

// ProxyInvoker is the narrow slice of an Endpoint's public API that a
// concrete proxy type (produced by a Binder) forwards member access
// through. It is implemented by *duplexrpc.Endpoint.
type ProxyInvoker interface {
	CallMethod(target ObjectID, method MethodID, generics []string, args []interface{}) (interface{}, error)
	CallMethodUnreliable(target ObjectID, method MethodID, generics []string, args []interface{})
	GetProperty(target ObjectID, property PropertyID) (interface{}, error)
	SetProperty(target ObjectID, property PropertyID, value interface{}) error
	GetIndexer(target ObjectID, property PropertyID, index []interface{}) (interface{}, error)
	SetIndexer(target ObjectID, property PropertyID, value interface{}, index []interface{}) error
	ReleaseProxy(target ObjectID, count uint32)
}

// Invokable runs one inbound method call against a held object's
// underlying value. generics carries the caller's generic-argument type
// descriptors, opaque to the engine.
type Invokable func(target interface{}, args []interface{}, generics []string) (interface{}, error)

// Accessor runs one inbound property or indexer access.
type Accessor interface {
	GetValue(target interface{}, index []interface{}) (interface{}, error)
	SetValue(target interface{}, value interface{}, index []interface{}) error
}

// LocalData is the resolved descriptor table for a held object's runtime
// type: every remotely callable member, keyed by the id the proxy side
// will reference it by.
type LocalData struct {
	Methods    map[MethodID]Invokable
	Properties map[PropertyID]Accessor
}

// Binder is the consumed proxy-binder collaborator. Given a
// shareable interface's stable type name it produces a concrete proxy
// instance forwarding member access through a ProxyInvoker; given a held
// Go value it returns the descriptor table used to serve inbound calls
// against that value's concrete type.
type Binder interface {
	// BuildProxy constructs a new proxy implementing the shareable
	// interface identified by typeName, whose members forward through
	// invoker.
	BuildProxy(typeName string, target ObjectID, invoker ProxyInvoker) (interface{}, error)

	// GetLocalData resolves the descriptor table for obj's concrete type.
	// ok is false if obj's type was never registered as shareable.
	GetLocalData(obj interface{}) (data *LocalData, typeName string, ok bool)

	// TypeNameOf returns the stable wire type name for a shareable value,
	// used when first marshaling it outward.
	TypeNameOf(obj interface{}) (typeName string, ok bool)
}
