// ABOUTME: Usage record inspection tool
// ABOUTME: Prints the session count and cooldown, and can reset them
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Resonate-Protocol/mentor-go/internal/usage"
)

var (
	usageFile = flag.String("usage-file", "", "Usage record path (default: platform config dir)")
	reset     = flag.Bool("reset", false, "Clear the counter and any cooldown")
)

func main() {
	flag.Parse()

	store := usage.NewFileStore(*usageFile)
	gate, err := usage.NewGate(store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load usage: %v\n", err)
		os.Exit(1)
	}

	if *reset {
		if err := gate.Reset(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to reset usage: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Usage reset")
	}

	status := gate.Status()
	fmt.Printf("File:   %s\n", store.Path())
	fmt.Printf("Uses:   %d/%d\n", status.UsesCount, status.MaxUses)
	fmt.Printf("State:  %s\n", status.State)
	if status.State == usage.StateBlocked {
		fmt.Printf("Resets: in %s\n", usage.FormatRemaining(status.Remaining))
	}
}
