// Package main provides the entry point for the markdownkeeper CLI.
package main

import (
	"os"

	"github.com/L3DigitalNet/markdownkeeper/cmd/markdownkeeper/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
