// Command ragbatch answers a sheet of questions against a document corpus.
package main

import (
	"fmt"
	"os"

	"github.com/Iron-Ham/ragbatch/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
