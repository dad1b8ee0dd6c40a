// docgate is the command line client for attested document access.
package main

import (
	"os"

	"github.com/gobeyondidentity/docgate/cmd/docgate/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
