package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// optional .env for local development; absence is not an error
	_ = godotenv.Load()

	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
