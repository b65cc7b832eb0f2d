package main

import (
	"os"

	"gokin/host/cmd/gokin-host/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
