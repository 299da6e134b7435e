package main

import (
	"os"

	"github.com/xroad-metrics/analyzer/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
