// The main package for the prospector executable.
package main

import "github.com/JakeFAU/prospect-crawler/cmd"

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
