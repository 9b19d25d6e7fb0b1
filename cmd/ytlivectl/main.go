package main

import (
	"context"
	"os"

	"ytlive-orchestrator/cmd/ytlivectl/commands"
	"ytlive-orchestrator/internal/platform/config"
)

func main() {
	_ = config.Load()
	if err := commands.NewRoot().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
