package main

import (
	"os"

	"github.com/conneroisu/sugar/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
