package main

import (
	"context"
	"log"
	"os"

	"github.com/ricardoahumada/sfd-auth-client/internal/cli"
)

func main() {
	cfg := cli.LoadConfig()

	app, err := cli.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}
	defer app.Close()

	if err := app.Run(context.Background(), os.Args[1:]); err != nil {
		log.Fatalf("command failed: %v", err)
	}
}
