package main

import (
	"fmt"
	"os"

	"github.com/teranos/nstree/cmd/nstree/commands"
	"github.com/teranos/nstree/errors"
	"github.com/teranos/nstree/logger"
)

func main() {
	err := commands.NewRootCmd().Execute()
	logger.Cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, errors.UserMessage(err))
		os.Exit(commands.ExitCode(err))
	}
}
