package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"coda/cli"
	"coda/coda"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := cli.ParseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		// cli already printed the message.
		return 1
	}
	if cfg.Version {
		fmt.Println("coda " + coda.Version)
		return 0
	}

	app, err := coda.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		return 1
	}
	defer app.Close()

	if err := app.Execute(); err != nil {
		var detailed *coda.DetailedError
		if errors.As(err, &detailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n%s", detailed.Err, detailed.Stack)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}
