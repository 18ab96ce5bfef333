// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

// Command duplexrpc-echo runs a client and a server connected by an
// in-memory pipe, to exercise the duplexrpc package end to end without a
// real transport.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hawkton/duplexrpc"
	"github.com/hawkton/duplexrpc/channel"
	"github.com/hawkton/duplexrpc/handler"
)

var (
	method  = flag.String("method", "Echo.Reverse", "method to call")
	message = flag.String("message", "hello, duplexrpc", "message to send")
	timeout = flag.Duration("timeout", 5*time.Second, "call timeout")
)

func reverse(_ context.Context, s string) (string, error) {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r), nil
}

func main() {
	flag.Parse()

	clientSide, serverSide := channel.Pipe(channel.JSON)

	srv := duplexrpc.NewServer("echo-server", &duplexrpc.ServerOptions{
		Logger: duplexrpc.StdLogger(log.New(os.Stderr, "[server] ", log.LstdFlags)),
	})
	srv.Handle("Echo.Reverse", handler.New(reverse))

	srvDone := make(chan error, 1)
	go func() { srvDone <- srv.Accept(serverSide) }()

	cli := duplexrpc.NewClient("echo-client", clientSide, &duplexrpc.ClientOptions{
		Logger: duplexrpc.StdLogger(log.New(os.Stderr, "[client] ", log.LstdFlags)),
	})
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := cli.Call(ctx, *method, *message)
	if err != nil {
		log.Fatalf("call failed: %v", err)
	}

	var out string
	if err := json.Unmarshal(result, &out); err != nil {
		log.Fatalf("decoding result: %v", err)
	}
	fmt.Println(out)

	cli.Close()
	if err := <-srvDone; err != nil {
		log.Printf("server exited: %v", err)
	}
}
