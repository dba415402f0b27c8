// The main package for the politecrawler executable.
package main

import (
	"github.com/JakeFAU/politecrawler/cmd"
)

func main() {
	cmd.Execute()
}
