package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

// version is set at link time with -X main.version=...
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	mode := os.Args[1]
	args := os.Args[2:]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var err error
	switch mode {
	case "serve":
		err = runServeMode(ctx, args)
		if err != nil && !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "ticketgate:", err)
			os.Exit(1)
		}
		return
	case "config":
		err = runConfigMode(args, os.Stdout)
	case "keys":
		err = runKeysMode(args, os.Stdout)
	case "net":
		err = runNetMode(ctx, args, os.Stdout)
	case "ticket":
		err = runTicketMode(args, os.Stdout)
	case "version":
		err = writeJSON(os.Stdout, map[string]any{"ok": true, "version": version})
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown mode: %s\n", mode)
		printUsage()
		os.Exit(2)
	}

	switch {
	case err == nil:
	case errors.Is(err, pflag.ErrHelp):
	default:
		writeJSON(os.Stdout, map[string]any{"ok": false, "error": err.Error()})
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: ticketgate <mode> [options]

Modes:
  serve     Run the print gateway
  config    Read or edit the settings file (--get, --set, --ensure, --backup)
  keys      Manage ticket signing keys (--set, --list, --delete)
  net       Show the machine identity (--mac, --adapters)
  ticket    Mint a signed ticket for local testing (--mint)
  version   Print the version

Run 'ticketgate <mode> -h' for mode-specific options.
`)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newFlagSet returns a flag set for mode with the settings path flag.
func newFlagSet(mode string, configPath *string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(mode, pflag.ContinueOnError)
	fs.SortFlags = false
	fs.StringVar(configPath, "config", defaultConfigPath(), "settings file")
	return fs
}
