package main

import (
	"fmt"
	"os"

	"github.com/tillberg/autorestart"

	"github.com/soyeahso/flowbot/internal/cli"
)

func main() {
	// Restart when the binary is rebuilt; enabled for local development only.
	if os.Getenv("FLOWBOT_AUTORESTART") == "1" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "flowbot:", err)
		os.Exit(1)
	}
}
