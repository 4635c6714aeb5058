package main

import (
	"os"

	"github.com/MnAnX/Infra/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
