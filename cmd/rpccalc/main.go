// Command rpccalc is a small calculator service and client exercising
// the RPC stack over the binary or JSON transport.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/behrlich/go-asyncrpc/internal/logging"
	"github.com/behrlich/go-asyncrpc/rpc"
	"github.com/behrlich/go-asyncrpc/rpc/binrpc"
	"github.com/behrlich/go-asyncrpc/rpc/jsonrpc"
	"github.com/behrlich/go-asyncrpc/sinfo"
)

func main() {
	app := cli.NewApp()
	app.Name = "rpccalc"
	app.Usage = "calculator RPC server and client"

	app.Commands = []cli.Command{
		{
			Name:  "serve",
			Usage: "run the calculator service",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "listen, l", Value: "127.0.0.1:7002", Usage: "listen address"},
				cli.StringFlag{Name: "proto, p", Value: "bin", Usage: "wire protocol: bin or json"},
				cli.BoolFlag{Name: "verbose, v", Usage: "debug logging"},
			},
			Action: serve,
		},
		{
			Name:      "call",
			Usage:     "invoke a method: rpccalc call add 1 2",
			ArgsUsage: "METHOD [ARG]...",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "addr, a", Value: "127.0.0.1:7002", Usage: "server address"},
				cli.StringFlag{Name: "proto, p", Value: "bin", Usage: "wire protocol: bin or json"},
				cli.DurationFlag{Name: "timeout, t", Value: 5 * time.Second, Usage: "call deadline"},
			},
			Action: call,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(verbose bool) {
	cfg := logging.DefaultConfig()
	if verbose {
		cfg.Level = logging.LevelDebug
	}
	logging.SetDefault(logging.NewLogger(cfg))
}

func registerCalc(reg *rpc.ServiceRegistry) error {
	methods := map[string]any{
		"add": func(a, b float64) float64 { return a + b },
		"sub": func(a, b float64) float64 { return a - b },
		"mul": func(a, b float64) float64 { return a * b },
		"div": func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, rpc.Faultf(1, "division by zero")
			}
			return a / b, nil
		},
		"echo": func(s string) string { return s },
	}
	for name, fn := range methods {
		if err := reg.RegisterMethod(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func serve(c *cli.Context) error {
	setupLogging(c.Bool("verbose"))
	addr := c.String("listen")

	metrics := rpc.NewMetrics()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var errCh = make(chan error, 1)
	var closer interface{ Close() error }

	switch c.String("proto") {
	case "bin":
		srv := binrpc.NewServer()
		srv.SetObserver(metrics)
		if err := registerCalc(srv.Registry); err != nil {
			return err
		}
		go func() { errCh <- srv.ListenAndServe(addr) }()
		closer = srv
	case "json":
		srv := jsonrpc.NewServer()
		srv.SetObserver(metrics)
		if err := registerCalc(srv.Registry); err != nil {
			return err
		}
		go func() { errCh <- srv.ListenAndServe(addr) }()
		closer = srv
	default:
		return fmt.Errorf("unknown protocol %q", c.String("proto"))
	}

	logging.Info("serving", "addr", addr, "proto", c.String("proto"))

	select {
	case err := <-errCh:
		return err
	case <-stop:
	}

	closer.Close()
	snap := metrics.Snapshot()
	logging.Info("shut down", "calls", snap.Calls, "faults", snap.Faults,
		"connections", snap.ConnectionsOpened)
	return nil
}

func call(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("method name required")
	}
	method := c.Args().First()

	var caller rpc.Caller
	switch c.String("proto") {
	case "bin":
		cl, err := binrpc.Dial(c.String("addr"))
		if err != nil {
			return err
		}
		defer cl.Close()
		caller = cl
	case "json":
		cl, err := jsonrpc.Dial(c.String("addr"))
		if err != nil {
			return err
		}
		defer cl.Close()
		caller = cl
	default:
		return fmt.Errorf("unknown protocol %q", c.String("proto"))
	}

	args := make([]*sinfo.Info, 0, c.NArg()-1)
	for _, raw := range c.Args().Tail() {
		si := sinfo.New()
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			si.SetFloat(f)
		} else {
			si.SetString(raw)
		}
		args = append(args, si)
	}

	proc := rpc.NewVaProcedure(caller, method)
	res, err := proc.Call(args, c.Duration("timeout"))
	if err != nil {
		return err
	}
	out, err := res.Str()
	if err != nil {
		out = res.String()
	}
	fmt.Println(out)
	return nil
}
