// Command vigil-eval runs the evaluation pipeline against a transcript file
// without the service around it.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
