package main

import (
	"flag"

	"go.uber.org/fx"

	"github.com/obdesk/obdesk/internal/daemon"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (default <data dir>/config.toml)")
	flag.Parse()

	fx.New(daemon.Module(*configPath)).Run()
}
