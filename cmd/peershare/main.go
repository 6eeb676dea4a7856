// Command peershare is the client-side coordinator for the peershare
// file-sharing network.
package main

import (
	"os"

	"github.com/longlephamtien/peershare/cmd/peershare/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
