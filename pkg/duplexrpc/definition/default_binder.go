package definition

import (
	"fmt"
	"reflect"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/jabolina/duplexrpc/pkg/duplexrpc/types"
)

// ErrUnknownSharedType is returned by BuildProxy when asked about a type
// name that was never registered. GetLocalData reports an unregistered
// value with ok=false instead.
var ErrUnknownSharedType = fmt.Errorf("duplexrpc: unknown shareable type")

var errType = reflect.TypeOf((*error)(nil)).Elem()

type registration struct {
	typeName string
	iface    reflect.Type
	build    func(target types.ObjectID, invoker types.ProxyInvoker) interface{}
	props    map[types.PropertyID]types.Accessor
}

// DefaultBinder is the default types.Binder: a registry, not a code
// generator. Go has no runtime facility to synthesize an arbitrary
// interface implementation, so callers register, per shareable interface:
// the interface's reflect.Type (methods are then dispatched by reflection
// and each method's position in name order becomes its MethodID), a proxy factory producing
// the hand-written (or generated) concrete proxy type, and — since Go has
// no property/indexer language feature — explicit property/indexer
// accessors keyed by PropertyID.
//
// Resolved (concrete type -> descriptor) lookups are cached in an LRU so
// a busy Endpoint does not repeat the reflection walk on every inbound
// dispatch.
type DefaultBinder struct {
	mu      sync.RWMutex
	byIface []*registration // in registration order, used by TypeNameOf

	cache *lru.Cache
}

const defaultDescriptorCacheSize = 512

func NewDefaultBinder() *DefaultBinder {
	cache, _ := lru.New(defaultDescriptorCacheSize)
	return &DefaultBinder{cache: cache}
}

// Register declares a shareable interface. iface must be an
// interface-kind reflect.Type. build constructs the concrete proxy type
// used on the receiving side when this typeName arrives for the first
// time.
func (b *DefaultBinder) Register(typeName string, iface reflect.Type, build func(target types.ObjectID, invoker types.ProxyInvoker) interface{}) {
	if iface.Kind() != reflect.Interface {
		panic(fmt.Sprintf("duplexrpc: Register(%q): not an interface type", typeName))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byIface = append(b.byIface, &registration{
		typeName: typeName,
		iface:    iface,
		build:    build,
		props:    map[types.PropertyID]types.Accessor{},
	})
}

// RegisterProperty attaches a property or indexer accessor to a
// previously registered shareable interface.
func (b *DefaultBinder) RegisterProperty(typeName string, id types.PropertyID, accessor types.Accessor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.byIface {
		if r.typeName == typeName {
			r.props[id] = accessor
			return
		}
	}
	panic(fmt.Sprintf("duplexrpc: RegisterProperty(%q): type not registered", typeName))
}

func (b *DefaultBinder) findRegistration(typeName string) *registration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, r := range b.byIface {
		if r.typeName == typeName {
			return r
		}
	}
	return nil
}

func (b *DefaultBinder) findImplementing(concrete reflect.Type) *registration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, r := range b.byIface {
		if concrete.Implements(r.iface) {
			return r
		}
	}
	return nil
}

func (b *DefaultBinder) BuildProxy(typeName string, target types.ObjectID, invoker types.ProxyInvoker) (interface{}, error) {
	r := b.findRegistration(typeName)
	if r == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSharedType, typeName)
	}
	return r.build(target, invoker), nil
}

func (b *DefaultBinder) TypeNameOf(obj interface{}) (string, bool) {
	concrete := reflect.TypeOf(obj)
	if concrete == nil {
		return "", false
	}
	r := b.findImplementing(concrete)
	if r == nil {
		return "", false
	}
	return r.typeName, true
}

func (b *DefaultBinder) GetLocalData(obj interface{}) (*types.LocalData, string, bool) {
	concrete := reflect.TypeOf(obj)
	if concrete == nil {
		return nil, "", false
	}
	if cached, ok := b.cache.Get(concrete); ok {
		entry := cached.(*cachedLocalData)
		return entry.data, entry.typeName, true
	}

	r := b.findImplementing(concrete)
	if r == nil {
		return nil, "", false
	}

	data := &types.LocalData{
		Methods:    make(map[types.MethodID]types.Invokable, r.iface.NumMethod()),
		Properties: r.props,
	}
	for i := 0; i < r.iface.NumMethod(); i++ {
		method := r.iface.Method(i)
		data.Methods[types.MethodID(i)] = reflectInvokable(method)
	}

	b.cache.Add(concrete, &cachedLocalData{data: data, typeName: r.typeName})
	return data, r.typeName, true
}

type cachedLocalData struct {
	data     *types.LocalData
	typeName string
}

// reflectInvokable builds an Invokable that calls method on target by
// name, coercing decoded wire arguments to the method's parameter types
// and normalizing its return values to (value, error).
func reflectInvokable(method reflect.Method) types.Invokable {
	return func(target interface{}, args []interface{}, _ []string) (interface{}, error) {
		v := reflect.ValueOf(target)
		m := v.MethodByName(method.Name)
		if !m.IsValid() {
			return nil, fmt.Errorf("duplexrpc: target %T has no method %s", target, method.Name)
		}
		mt := m.Type()
		if mt.NumIn() != len(args) {
			return nil, fmt.Errorf("duplexrpc: method %s expects %d args, got %d", method.Name, mt.NumIn(), len(args))
		}
		in := make([]reflect.Value, len(args))
		for i, a := range args {
			coerced, err := coerceArg(a, mt.In(i))
			if err != nil {
				return nil, fmt.Errorf("duplexrpc: method %s arg %d: %w", method.Name, i, err)
			}
			in[i] = coerced
		}

		out := m.Call(in)
		return splitReturn(out)
	}
}

func coerceArg(v interface{}, target reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(target), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(target) {
		return rv, nil
	}
	if rv.Type().ConvertibleTo(target) {
		return rv.Convert(target), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", v, target)
}

func splitReturn(out []reflect.Value) (interface{}, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if out[0].Type().Implements(errType) {
			if out[0].IsNil() {
				return nil, nil
			}
			return nil, out[0].Interface().(error)
		}
		return out[0].Interface(), nil
	default:
		var err error
		last := out[len(out)-1]
		if last.Type().Implements(errType) && !last.IsNil() {
			err = last.Interface().(error)
		}
		return out[0].Interface(), err
	}
}

var _ types.Binder = (*DefaultBinder)(nil)
