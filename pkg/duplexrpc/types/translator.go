package types

// RefTranslator is implemented by the Endpoint and consumed by the
// Dispatcher (package core) to convert between wire-level SharedRef
// values and live local objects / proxies, without the core package
// needing to import the Endpoint's own package (which imports core).
//
// These are exactly the three hooks a serializer needs to call back
// into: registerLocalForSend, resolveOrBuildProxy, retrieveLocal. Here
// the translation boundary sits one layer above the Codec (see
// SharedRef's doc comment for why), but the three operations and their
// failure modes are unchanged.
type RefTranslator interface {
	RegisterLocalForSend(obj interface{}) (SharedRef, error)
	ResolveOrBuildProxy(ref SharedRef) (interface{}, error)
	RetrieveLocal(id ObjectID) (interface{}, bool)
}

// ProxyHandle drops one occurrence of a remote reference. A
// *core.Proxy satisfies this by virtue of its Release method; it is
// expressed here, one layer below core, so a proxy value can hold one
// without either package importing the other.
type ProxyHandle interface {
	Release()
}

// ProxyLifetime is optionally implemented by a value a Binder's
// BuildProxy produces. When present, ResolveOrBuildProxy hands the value
// its own ProxyHandle right after resolving it, so the handle's
// reachability tracks the proxy value the caller actually holds onto
// instead of a local variable that goes out of scope the instant the
// call returns. A proxy type that implements this can then expose its
// own Release method forwarding to the attached handle — the primary,
// explicit way to drop a remote reference; see RemoteProxyTable's doc
// comment for why the finalizer alone cannot be relied on.
type ProxyLifetime interface {
	AttachHandle(h ProxyHandle)
}
