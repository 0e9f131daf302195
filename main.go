package main

import (
	"context"
	"os"

	"github.com/tonimelisma/spsync/internal/siteops"
)

func main() {
	err := newRootCmd().ExecuteContext(context.Background())
	closeActive()

	if err != nil {
		// Operation failures were already shown by the notifier.
		if siteops.IsReported(err) {
			os.Exit(1)
		}

		exitOnError(err)
	}
}
