package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/standardbeagle/wvbridge/internal/client"
	"github.com/standardbeagle/wvbridge/internal/log"
	"github.com/standardbeagle/wvbridge/internal/tools"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run as MCP server",
	Long: `Run as an MCP (Model Context Protocol) server for AI coding assistants.

Tools are served over stdio and forwarded to a running bridge (see "wvbridge serve").`,
	RunE: runMCP,
}

var (
	mcpURL      string
	mcpLogLevel string
)

func init() {
	mcpCmd.Flags().StringVar(&mcpURL, "url", client.DefaultURL, "Bridge WebSocket URL")
	mcpCmd.Flags().StringVar(&mcpLogLevel, "log-level", "warn", "Log level: debug, info, warn, error")
}

const mcpInstructions = `Drive web content running inside a host application through the wvbridge WebSocket bridge.

Available tools:
- webview_execute_js: Run JavaScript in a window and return its value
- webview_windows: List windows or describe one
- webview_screenshot: Native viewport capture
- webview_scripts: Scripts injected on every page load
- webview_ipc_monitor: Capture host command traffic
- webview_invoke: Call host commands (get_backend_state, emit_event, ...)`

func runMCP(cmd *cobra.Command, args []string) error {
	// stdout carries the protocol
	logger := log.New(mcpLogLevel, "text", os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, 5*time.Second)
	c, err := client.Dial(dialCtx, mcpURL)
	dialCancel()
	if err != nil {
		logger.Error("bridge unreachable", "url", mcpURL, "error", err)
		return err
	}
	defer c.Close()

	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    appName,
			Version: appVersion,
		},
		&mcp.ServerOptions{
			HasTools:     true,
			Instructions: mcpInstructions,
		},
	)
	tools.RegisterBridgeTools(server, c)

	logger.Info("starting MCP server", "version", appVersion, "bridge", mcpURL)
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		logger.Error("MCP server stopped", "error", err)
		return err
	}
	return nil
}
