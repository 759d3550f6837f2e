package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	os.Exit(run())
}

func run() int {
	err := newRootCommand().Execute()
	if err == nil {
		return 0
	}
	// An interrupt already produced its own shutdown log line.
	if !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "tomoprep: %v\n", err)
	}
	return 1
}
