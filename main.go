// The main package for the feeddigest executable.
package main

import (
	"github.com/JakeFAU/feeddigest/cmd"
)

func main() {
	cmd.Execute()
}
