package main

import (
	"flag"
	"os"
	"path/filepath"

	"go.uber.org/fx"

	"github.com/hondutalent/bridge/internal/daemon"
)

func main() {
	configFlag := flag.String("config", "", "path to bridged.toml (default: ~/.bridged/bridged.toml)")
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		home, _ := os.UserHomeDir()
		configPath = filepath.Join(home, ".bridged", "bridged.toml")
	}

	app := fx.New(
		daemon.Module(daemon.Params{ConfigPath: configPath}),
	)

	app.Run()
}
