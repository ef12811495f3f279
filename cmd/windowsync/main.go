package main

import (
	"os"

	"github.com/tryfix/windowsync/cmd/windowsync/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
