// Command loanflow runs the loan processing workflow: the intake processor,
// the orchestrating controller, the MCP agents and the ops API.
package main

import (
	"os"

	"loanflow/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
