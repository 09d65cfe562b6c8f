package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/jabolina/duplexrpc/pkg/duplexrpc"
	"github.com/jabolina/duplexrpc/pkg/duplexrpc/definition"
)

func main() {
	app := cli.NewApp()
	app.Name = "duplexrpc-demo"
	app.Usage = "run a duplexrpc server or make a call against one"
	app.Commands = []cli.Command{
		{
			Name:  "serve",
			Usage: "listen for connections and expose a Greeter root object",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "addr", Value: "127.0.0.1:7711"},
				cli.StringFlag{Name: "greeting", Value: "Hello"},
			},
			Action: serveCommand,
		},
		{
			Name:  "call",
			Usage: "connect to a server and call Greet(name) on its root object",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "addr", Value: "127.0.0.1:7711"},
				cli.StringFlag{Name: "name", Value: "world"},
			},
			Action: callCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		color.Red("duplexrpc-demo: %v", err)
		os.Exit(1)
	}
}

func serveCommand(c *cli.Context) error {
	binder := definition.NewDefaultBinder()
	registerGreeter(binder)

	opts := duplexrpc.DefaultOptions()
	opts.Binder = binder

	root := &greeterImpl{greeting: c.String("greeting")}
	listener, err := duplexrpc.Listen(c.String("addr"), root, opts)
	if err != nil {
		return err
	}
	defer listener.Close()

	color.Green("listening on %s", listener.Addr())
	listener.SetOnAccept(func(e *duplexrpc.Endpoint) {
		color.Cyan("accepted connection, network id %v", e.NetworkID())
		e.SetOnDisconnected(func() {
			color.Yellow("network id %v disconnected", e.NetworkID())
		})
	})

	return listener.Serve(func(e *duplexrpc.Endpoint) {
		// Nothing else to drive on the server side: every inbound call
		// already runs on opts.Scheduler via the dispatcher.
		_ = e
	})
}

func callCommand(c *cli.Context) error {
	binder := definition.NewDefaultBinder()
	registerGreeter(binder)

	opts := duplexrpc.DefaultOptions()
	opts.Binder = binder

	endpoint := duplexrpc.NewEndpoint(nil, opts)
	if err := endpoint.Connect(c.String("addr")); err != nil {
		return err
	}
	defer endpoint.Disconnect()

	server, ok := endpoint.Server().(Greeter)
	if !ok {
		return fmt.Errorf("server did not expose a Greeter root object")
	}

	reply, err := server.Greet(c.String("name"))
	if err != nil {
		return err
	}
	color.Green("%s", reply)
	return nil
}
