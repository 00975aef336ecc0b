package main

import (
	"fmt"
	"os"

	"github.com/gostack/dwarfwalk/cmd/unwind"
)

func main() {
	if err := unwind.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
