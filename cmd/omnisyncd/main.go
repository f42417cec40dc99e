package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/omnidesk/omnisync/internal/config"
	"github.com/omnidesk/omnisync/internal/daemon"
)

func main() {
	configFlag := flag.String("config", "", "path to config.toml (defaults apply when omitted)")
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(cfg),
	)

	app.Run()
}
