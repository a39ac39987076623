package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jrsteele09/notifica/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	root := cli.NewRootCmd(cli.DefaultAppFactory)
	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("notifica version %s\n", version))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
