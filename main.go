package main

import (
	"os"

	"rgbdapi/cli"
)

func main() {
	os.Exit(cli.Execute())
}
