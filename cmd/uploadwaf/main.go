package main

import (
	"os"

	"github.com/solatis/uploadwaf/cmd/uploadwaf/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
