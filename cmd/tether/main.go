// Tether command line entry point.
package main

import (
	"fmt"
	"os"

	"github.com/calyptra/tether/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
