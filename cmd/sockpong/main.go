package main

import (
	"fmt"
	"os"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) (err error) {
	a := &app{}
	root := newRootCmd(a)
	root.SetArgs(args)

	defer func() {
		if a.log == nil {
			return
		}
		if err != nil {
			a.log.Error("Fatal error: %v", err)
		}
		if closeErr := a.log.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	return root.Execute()
}
