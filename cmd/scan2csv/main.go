package main

import (
	"os"

	"github.com/joseph-ayodele/scan2csv/cmd/scan2csv/commands"
)

func main() {
	os.Exit(commands.Execute())
}
