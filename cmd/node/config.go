package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"

	"MultiBridge/internal/dispatch"
	"MultiBridge/internal/genesis"
	"MultiBridge/internal/ledger"
)

// Config holds the node configuration.
type Config struct {
	// DataPath is the directory for persistent storage.
	DataPath string

	// HTTPAddress is the HTTP API listen address. Empty disables the API.
	HTTPAddress string

	// QUICAddress is the listen address adapters dial.
	QUICAddress string

	// KeyPath is the ed25519 private key file, created if missing.
	// Defaults to node.key under DataPath.
	KeyPath string

	// ChainID is the local chain. Messages for other chains are rejected; 0 accepts any.
	ChainID uint64

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// CacheSize is the number of quorum records kept in memory.
	CacheSize int

	// MaxStreams bounds concurrent requests per adapter connection.
	MaxStreams int64

	// PodsDir holds *.wasm targets. Empty disables pods.
	PodsDir string

	// GasLimit bounds one pod execution.
	GasLimit uint64

	// Webhooks route targets to HTTP endpoints.
	Webhooks []Webhook

	// Genesis is applied once, on the first start with an empty store.
	Genesis genesis.Config
}

// Webhook routes one target address to an HTTP endpoint.
type Webhook struct {
	Target  string // Target is the hex address messages must carry
	URL     string // URL receives a JSON POST per executed message
	Timeout string // Timeout is a Go duration, default 10s
}

// defaultConfig returns the configuration used when no file or flag overrides it.
func defaultConfig() *Config {
	return &Config{
		DataPath:    "./data",
		HTTPAddress: ":8080",
		QUICAddress: ":9000",
		LogLevel:    "info",
		CacheSize:   ledger.DefaultCacheSize,
		GasLimit:    dispatch.DefaultGasLimit,
	}
}

// tomlSettings matches TOML keys to Go field names exactly and rejects unknown keys.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// loadTOML decodes the TOML file at path into v.
func loadTOML(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(v)

	// Add file name to errors that have a line number.
	var lineErr *toml.LineError
	if errors.As(err, &lineErr) {
		err = errors.New(path + ", " + err.Error())
	}

	return err
}

// Flags shared by every command that opens a node.
var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "TOML configuration file",
	}
	dataFlag = &cli.StringFlag{
		Name:  "data",
		Usage: "Data directory path",
	}
	httpFlag = &cli.StringFlag{
		Name:  "http",
		Usage: "HTTP API address",
	}
	quicFlag = &cli.StringFlag{
		Name:  "quic",
		Usage: "QUIC listen address for adapters",
	}
	keyFlag = &cli.StringFlag{
		Name:  "key",
		Usage: "Ed25519 private key path (generates new if missing)",
	}
	chainFlag = &cli.Uint64Flag{
		Name:  "chain",
		Usage: "Local chain id (0 accepts any destination)",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn, error",
	}
	restoreFlag = &cli.StringFlag{
		Name:  "restore",
		Usage: "Snapshot file to import into an empty data directory",
	}
)

// nodeFlags are accepted by the run command.
var nodeFlags = []cli.Flag{
	configFlag,
	dataFlag,
	httpFlag,
	quicFlag,
	keyFlag,
	chainFlag,
	logLevelFlag,
	restoreFlag,
}

// makeConfig loads the config file if any, then applies command-line overrides.
func makeConfig(ctx *cli.Context) (*Config, error) {
	cfg := defaultConfig()

	if path := ctx.String(configFlag.Name); path != "" {
		if err := loadTOML(path, cfg); err != nil {
			return nil, fmt.Errorf("load config:\n%w", err)
		}
	}

	if ctx.IsSet(dataFlag.Name) {
		cfg.DataPath = ctx.String(dataFlag.Name)
	}
	if ctx.IsSet(httpFlag.Name) {
		cfg.HTTPAddress = ctx.String(httpFlag.Name)
	}
	if ctx.IsSet(quicFlag.Name) {
		cfg.QUICAddress = ctx.String(quicFlag.Name)
	}
	if ctx.IsSet(keyFlag.Name) {
		cfg.KeyPath = ctx.String(keyFlag.Name)
	}
	if ctx.IsSet(chainFlag.Name) {
		cfg.ChainID = ctx.Uint64(chainFlag.Name)
	}
	if ctx.IsSet(logLevelFlag.Name) {
		cfg.LogLevel = ctx.String(logLevelFlag.Name)
	}

	if cfg.KeyPath == "" {
		cfg.KeyPath = filepath.Join(cfg.DataPath, "node.key")
	}

	return cfg, cfg.validate()
}

// validate checks the fields the node cannot start without.
func (c *Config) validate() error {
	if c.DataPath == "" {
		return fmt.Errorf("data path is required")
	}

	if c.QUICAddress == "" {
		return fmt.Errorf("quic address is required")
	}

	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook %d: url is required", i)
		}

		if wh.Timeout != "" {
			if _, err := time.ParseDuration(wh.Timeout); err != nil {
				return fmt.Errorf("webhook %d: timeout:\n%w", i, err)
			}
		}
	}

	return nil
}
