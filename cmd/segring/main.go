package main

import (
	"fmt"
	"os"

	"github.com/gholt/segring/cli"
)

func main() {
	if err := cli.CLI(os.Args, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
