package main

import (
	"os"

	"github.com/affnet-network/affnet/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
