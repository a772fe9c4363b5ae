// Command server runs the gatekeeper admission and identity service.
package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/gatekeeper/internal/server"
	"github.com/dmitrijs2005/gatekeeper/internal/server/config"
)

func main() {
	os.Exit(run(context.Background()))
}

// run returns the process exit code: 2 for bad configuration, 1 when the
// service fails to start or stops with an error.
func run(ctx context.Context) int {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("config: %v", err)
		return 2
	}

	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Printf("startup: %v", err)
		return 1
	}

	if err := app.Run(ctx); err != nil {
		log.Printf("%v", err)
		return 1
	}
	return 0
}
