package main

import (
	"fmt"
	"os"

	"github.com/rretrogamerr/uaedb/internal/cli"
	"github.com/rretrogamerr/uaedb/internal/uaerr"
)

func main() {
	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "uaedb: %v\n", err)
		os.Exit(uaerr.ExitCode(err))
	}
}
