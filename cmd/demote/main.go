// Package main provides the demote CLI: it runs the monitor in the
// foreground, checks targets once, or drives the demoted daemon.
package main

import (
	"os"
)

func main() {
	err := Execute()
	if err != nil {
		printError("%v", err)
	}
	os.Exit(exitCode(err))
}
