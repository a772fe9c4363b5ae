package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/gatekeeper/internal/client/cli"
	"github.com/dmitrijs2005/gatekeeper/internal/client/config"
)

func main() {

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args := os.Args[1:]

	cfg, err := config.LoadConfig(args)
	if err != nil {
		log.Fatalf("%v", err)
	}

	app, err := cli.NewApp(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	// "gatekeeperctl [flags] ping" runs one command; no command starts the REPL.
	if n := len(args); n > 0 && cli.IsCommand(args[n-1]) {
		if err := app.Exec(ctx, args[n-1]); err != nil {
			os.Exit(1)
		}
		return
	}

	app.Run(ctx)

}
