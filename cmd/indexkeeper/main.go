// Package main provides the entry point for the indexkeeper CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/indexkeeper/cmd/indexkeeper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
