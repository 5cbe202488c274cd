// The main package for the repothread executable.
package main

import (
	"github.com/JakeFAU/repothread/cmd"
)

func main() {
	cmd.Execute()
}
