// Command codezoo runs the codezoo playground server and its tooling.
package main

import (
	"os"

	"github.com/codezoo/codezoo/cmd/codezoo/commands"
)

func main() {
	os.Exit(commands.Execute())
}
