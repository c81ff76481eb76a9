package main

import (
	"fmt"
	"os"

	"github.com/soyeahso/anonrelay/internal/cli"
	"github.com/tillberg/autorestart"
)

func main() {
	if os.Getenv("ANONRELAY_AUTORESTART") != "" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "anonrelay:", err)
		os.Exit(1)
	}
}
