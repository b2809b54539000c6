// Package main provides the entry point for the esidx CLI.
package main

import (
	"os"

	"github.com/AlectoTheFirst/esidx/cmd/esidx/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
