// pelicide runs pelican site workers for live editing.
package main

import (
	"os"

	"github.com/dshills/pelicide/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
