package main

import (
	"os"

	"example.com/recurring/cmd/recurringctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
