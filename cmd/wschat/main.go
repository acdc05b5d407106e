package main

import (
	"os"

	"github.com/ledzpl/wschat/cmd/wschat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
