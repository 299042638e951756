// The main package for the pdfharvest executable.
package main

import "github.com/pdfharvest/pdfharvest/cmd"

func main() {
	cmd.Execute()
}
