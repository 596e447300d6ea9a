// Package main is the entry point for the resmeter combat meter.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/resmeter/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
