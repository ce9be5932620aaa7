package main

import (
	"os"

	"github.com/quantpulse/tradingkb/cmd/tradingkb/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
