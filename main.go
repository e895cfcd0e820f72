package main

import (
	"os"

	"github.com/conceptmesh/mesh-go/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
