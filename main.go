package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"

	"github.com/spigell/scentmatch/cmd"
)

func main() {
	if err := fang.Execute(
		context.Background(),
		cmd.Root(),
		fang.WithVersion(cmd.Version()),
		fang.WithNotifySignal(os.Interrupt, os.Kill),
	); err != nil {
		os.Exit(1)
	}
}
