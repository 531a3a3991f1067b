package main

import (
	"fmt"
	"os"

	"github.com/goliatone/go-auth-client/cmd/campauth/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
