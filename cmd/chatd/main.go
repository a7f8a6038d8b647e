package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"github.com/arcadely/chatd/internal/daemon"
	"github.com/arcadely/chatd/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	envFile := flag.String("env", "", "path to a .env file with CHATD_* overrides")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "error: load %s: %v\n", *envFile, err)
			os.Exit(1)
		}
	} else {
		// Best effort; a missing .env in the working directory is fine.
		_ = godotenv.Load()
	}

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{SessionName: sessionName}),
	)

	app.Run()
}
