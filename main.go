package main

import (
	"os"

	"github.com/conneroisu/pig/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
