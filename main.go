// The main package for the newsroom-crawler executable.
package main

import (
	"github.com/JakeFAU/newsroom-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
