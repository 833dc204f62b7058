// Package main provides the entry point for rv5sim.
// rv5sim is a cycle-accurate model of a 5-stage in-order RV32IM core.
//
// For the full CLI, use: go run ./cmd/rv5sim
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("rv5sim - RV32IM 5-stage pipeline simulator")
	fmt.Println("")
	fmt.Println("Usage: rv5sim [options] <program.elf>")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -t, --timing     Run the cycle-accurate timing model")
	fmt.Println("  -i, --monitor    Start the interactive monitor")
	fmt.Println("  -c, --config     Path to core configuration JSON file")
	fmt.Println("  -v, --verbose    Log debug detail")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/rv5sim' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/rv5sim' instead.")
	}
}
