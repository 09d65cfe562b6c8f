package main

import (
	"fmt"
	"reflect"

	"github.com/jabolina/duplexrpc/pkg/duplexrpc/definition"
	"github.com/jabolina/duplexrpc/pkg/duplexrpc/types"
)

// Greeter is the one shareable interface this demo exposes. Its root
// object lives on the server side; the client only ever touches a proxy.
type Greeter interface {
	Greet(name string) (string, error)
}

const greeterTypeName = "demo.Greeter"

// greeterImpl is the concrete implementation installed as the server's
// root object.
type greeterImpl struct {
	greeting string
}

func (g *greeterImpl) Greet(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("name must not be empty")
	}
	return fmt.Sprintf("%s, %s!", g.greeting, name), nil
}

// greeterProxy is the concrete proxy a DefaultBinder hands back to a
// caller holding a types.SharedRef to a Greeter. Every member forwards
// through the ProxyInvoker (the Endpoint's CallMethod).
type greeterProxy struct {
	target  types.ObjectID
	invoker types.ProxyInvoker
}

const methodGreet types.MethodID = 0

func (p *greeterProxy) Greet(name string) (string, error) {
	result, err := p.invoker.CallMethod(p.target, methodGreet, nil, []interface{}{name})
	if err != nil {
		return "", err
	}
	s, _ := result.(string)
	return s, nil
}

func registerGreeter(binder *definition.DefaultBinder) {
	iface := reflect.TypeOf((*Greeter)(nil)).Elem()
	binder.Register(greeterTypeName, iface, func(target types.ObjectID, invoker types.ProxyInvoker) interface{} {
		return &greeterProxy{target: target, invoker: invoker}
	})
}
