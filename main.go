package main

import (
	"os"

	"github.com/grovepm/grove-team/cmd"
)

func main() {
	if err := cmd.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}