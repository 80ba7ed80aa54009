package main

import (
	"flag"
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"

	"github.com/golang/glog"

	"github.com/Ricardh522/sdk-dslink-go/dslink"
)

const DefaultBrokerUrl = "http://localhost:8080/conn"

func main() {
	usage := fmt.Sprintf(
		`Example responder link.

Exposes a random number generator action and a periodically updated
counter value under the broker.

The default broker url is %s

Usage:
    examplelink [--broker=<broker>] [--name=<name>] [--key=<key>]
        [--nodes=<nodes>] [--token=<token>]

Options:
    -h --help            Show this screen.
    --broker=<broker>    Broker handshake url [default: %s].
    --name=<name>        Link name [default: example].
    --key=<key>          Keypair path [default: .key].
    --nodes=<nodes>      Node structure path [default: nodes.json].
    --token=<token>      Broker access token. Use - to prompt without echo.`,
		DefaultBrokerUrl,
		DefaultBrokerUrl,
	)

	flag.Set("logtostderr", "true")
	flag.CommandLine.Parse([]string{})
	defer glog.Flush()

	opts, err := docopt.ParseArgs(usage, os.Args[1:], "")
	if err != nil {
		panic(err)
	}

	broker, _ := opts.String("--broker")
	name, _ := opts.String("--name")
	keyPath, _ := opts.String("--key")
	nodesPath, _ := opts.String("--nodes")

	var token string
	if tokenAny := opts["--token"]; tokenAny != nil {
		token = tokenAny.(string)
	}
	if token == "-" {
		fmt.Print("token: ")
		tokenBytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			glog.Errorf("reading token: %s", err)
			os.Exit(1)
		}
		token = string(tokenBytes)
	}

	config := &dslink.LinkConfig{
		Name:        name,
		Broker:      broker,
		KeyPath:     keyPath,
		NodesPath:   nodesPath,
		Token:       token,
		IsResponder: true,
		OnConnected: buildNodes,
	}
	link := dslink.NewLink(config)

	rng := link.Profiles().AddProfile("rng")
	rng.OnInvoke(func(params *dslink.CallbackParameters) []any {
		count := 1
		if v, ok := params.Params["count"].(float64); ok {
			count = int(v)
		}
		rows := make([]any, 0, count)
		for i := 0; i < count; i += 1 {
			rows = append(rows, []any{time.Now().UnixNano() % 1000})
		}
		return rows
	})

	if err := link.Run(); err != nil {
		glog.Errorf("link failed: %s", err)
		glog.Flush()
		os.Exit(1)
	}
}

func buildNodes(superRoot *dslink.Node) {
	if !superRoot.HasChild("counter") {
		counter := dslink.NewNode("counter", superRoot)
		counter.SetType(dslink.TypeNumber)
		counter.SetDisplayName("Counter")
		counter.SetValue(0, false)
		superRoot.AddChild(counter)
	}

	if !superRoot.HasChild("generate") {
		generate := dslink.NewNode("generate", superRoot)
		generate.SetProfile("rng")
		generate.SetInvokable("read")
		generate.SetParameters([]any{
			map[string]any{"name": "count", "type": dslink.TypeNumber},
		})
		generate.SetColumns([]any{
			map[string]any{"name": "value", "type": dslink.TypeNumber},
		})
		superRoot.AddChild(generate)
	}

	counter, _ := superRoot.Child("counter")
	go func() {
		i := 0
		for {
			time.Sleep(1 * time.Second)
			i += 1
			counter.SetValue(i, false)
		}
	}()
}
