// cmd/cortexd/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/colebrumley/cortex/internal/config"
	"github.com/colebrumley/cortex/internal/daemon"
)

func main() {
	configPath := os.Getenv("CORTEX_CONFIG")
	if configPath == "" {
		configPath = filepath.Join(config.SupportDir(), "config.yaml")
	}
	// empty means the rules_dir from config
	rulesDir := os.Getenv("CORTEX_RULES_DIR")

	d := daemon.New(configPath, rulesDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nReceived shutdown signal")
		cancel()
	}()

	if len(os.Args) > 1 && os.Args[1] == "mcp-server" {
		if err := d.ServeMCP(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := d.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "daemon error: %v\n", err)
		os.Exit(1)
	}
}
