package main

import (
	"context"
	"os"

	"github.com/tablechat/tablechat/internal/cli/tablechatctl"
)

func main() {
	code := tablechatctl.Run(context.Background(), os.Args[1:], tablechatctl.Options{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	os.Exit(code)
}
