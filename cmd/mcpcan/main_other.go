//go:build !linux

package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "mcpcan: spidev transport requires linux")
	os.Exit(1)
}
