// The main package for the keyword-watcher executable.
package main

import (
	"github.com/JakeFAU/keyword-watcher/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
