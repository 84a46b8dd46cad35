package main

import (
	"os"

	"github.com/quantfabric/refcheck/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
