package main

import (
	"os"

	"evalprep/internal/cli"
)

func main() { os.Exit(cli.Main()) }
