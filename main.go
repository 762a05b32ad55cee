package main

import (
	"os"

	"github.com/roslynquery/roslynquery/cli"
)

func main() {
	os.Exit(cli.Execute())
}
