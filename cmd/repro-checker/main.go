package main

import (
	"os"

	"github.com/flathub-infra/repro-checker/cmd/repro-checker/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
