package main

import (
	"fmt"
	"os"

	"github.com/trickstertwo/xproxy/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "xproxy:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
