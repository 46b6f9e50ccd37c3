// Model registry server and client
package main

import (
	"fmt"
	"os"

	"github.com/nainya/modelregistry/pkg/errdefs"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		switch errdefs.CategoryOf(err) {
		case errdefs.CategoryConnection:
			os.Exit(3)
		case errdefs.CategoryNotFound:
			os.Exit(4)
		case errdefs.CategoryValidation:
			os.Exit(2)
		}
		os.Exit(1)
	}
}
