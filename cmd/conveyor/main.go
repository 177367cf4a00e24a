package main

import (
	"fmt"
	"os"

	"github.com/vkngwrapper/conveyor/cmd/conveyor/commands"
)

func main() {
	err := commands.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
