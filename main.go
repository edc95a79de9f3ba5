// The main package for the market-crawler executable.
package main

import (
	"os"

	"github.com/bionicspirit/market-crawler/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
