package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/peterbourgon/ff/v4/ffyaml"

	"github.com/zombor/invoice-reconciler/internal/logging"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// rootConfig holds the flags shared by every subcommand
type rootConfig struct {
	dbPath    *string
	logLevel  *string
	logFormat *string
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env file is fine; flags and the environment still apply.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	rootFlags := ff.NewFlagSet("reconciler")
	root := rootConfig{
		dbPath:    rootFlags.StringLong("db", "reconciler.db", "History database file path"),
		logLevel:  rootFlags.StringLong("log-level", "info", "Log level: debug, info, warn or error"),
		logFormat: rootFlags.StringLong("log-format", "text", "Log format: text or json"),
	}
	_ = rootFlags.StringLong("config", "", "YAML config file (optional)")
	_ = rootFlags.BoolLong("version", "Show version information")

	rootCmd := &ff.Command{
		Name:      "reconciler",
		Usage:     "reconciler <subcommand> [flags]",
		ShortHelp: "reconcile merged invoice and purchase order PDFs",
		Flags:     rootFlags,
		Subcommands: []*ff.Command{
			newRunCommand(rootFlags, root),
			newHistoryCommand(rootFlags, root),
		},
		Exec: func(ctx context.Context, args []string) error {
			return ff.ErrHelp
		},
	}

	err := rootCmd.ParseAndRun(context.Background(), os.Args[1:],
		ff.WithEnvVarPrefix("RECONCILER"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ffyaml.Parse),
		ff.WithConfigAllowMissingFile(),
	)
	switch {
	case err == nil:
	case errors.Is(err, ff.ErrHelp):
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(rootCmd.GetSelected()))
	default:
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// initLogging installs the logger configured by the root flags
func (r rootConfig) initLogging() {
	logging.Init(logging.Config{
		Level:  *r.logLevel,
		Format: *r.logFormat,
	})
}
