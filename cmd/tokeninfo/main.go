package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"daleel.org/internal/authclient"
)

// tokeninfo introspects an access token against a running daleel-api.
func main() {
	var (
		addr    = flag.String("addr", "localhost:9090", "gRPC address of daleel-api")
		timeout = flag.Duration("timeout", 5*time.Second, "request timeout")
		whoami  = flag.Bool("whoami", false, "call the guarded WhoAmI instead of Introspect")
	)
	flag.Parse()

	token := strings.TrimSpace(flag.Arg(0))
	if token == "" {
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		token = strings.TrimSpace(line)
	}
	if token == "" {
		fmt.Fprintf(os.Stderr, "usage: %s [-addr host:port] [-whoami] <token>\n", os.Args[0])
		os.Exit(1)
	}

	client, err := authclient.Dial(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var res *authclient.Introspection
	if *whoami {
		res, err = client.WhoAmI(ctx, token)
	} else {
		res, err = client.Introspect(ctx, token)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokeninfo: %v\n", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(res)
	if !res.Active {
		os.Exit(2)
	}
}
