package main

import (
	"os"

	"github.com/agvflow/agvflow/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
