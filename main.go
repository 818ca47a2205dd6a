package main

import (
	"os"

	"github.com/pterodactyl/streamfs/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
