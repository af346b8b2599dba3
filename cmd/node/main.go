package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"MultiBridge/internal/logger"
	"MultiBridge/internal/network"
)

var app = &cli.App{
	Name:   "multibridge",
	Usage:  "aggregate cross-chain message attestations and execute them on quorum",
	Flags:  nodeFlags,
	Action: runNode,
	Commands: []*cli.Command{
		runCommand,
		keygenCommand,
		idCommand,
		proposeCommand,
		compareCommand,
	},
}

var runCommand = &cli.Command{
	Name:   "run",
	Usage:  "Start the node (default command)",
	Flags:  nodeFlags,
	Action: runNode,
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runNode is the entry point of the run command.
func runNode(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	logger.Init(level)

	if err := os.MkdirAll(cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	key, err := network.LoadOrGenerateKey(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}

	printStartupInfo(cfg)

	node, err := NewNode(ctx.Context, cfg, key, ctx.String(restoreFlag.Name))
	if err != nil {
		return fmt.Errorf("create node:\n%w", err)
	}

	return node.Run()
}

// printStartupInfo displays node configuration at startup.
func printStartupInfo(cfg *Config) {
	logger.Info("starting MultiBridge node",
		"http", cfg.HTTPAddress,
		"quic", cfg.QUICAddress,
		"data", cfg.DataPath,
		"chain", cfg.ChainID,
		"pods", cfg.PodsDir,
		"webhooks", len(cfg.Webhooks),
	)
}
