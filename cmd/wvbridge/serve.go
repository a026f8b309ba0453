package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/wvbridge/internal/bridge"
	"github.com/standardbeagle/wvbridge/internal/config"
	"github.com/standardbeagle/wvbridge/internal/log"
	"github.com/standardbeagle/wvbridge/internal/pagehost"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge with the injecting page host",
	Long: `Run the WebSocket bridge together with the page host.

The page host proxies --target (or serves a blank page) and injects the bridge
runtime into every HTML response. Each open page becomes a window that bridge
clients can script.

Settings come from the config file, then WVBRIDGE_* environment variables,
then flags.`,
	RunE: runServe,
}

var serveFlags struct {
	configPath string
	port       int
	bind       string
	target     string
	pagePort   int
	logLevel   string
	directEval bool
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/wvbridge/config.kdl)")
	f.IntVar(&serveFlags.port, "port", 0, "Bridge port (0 scans 9223-9322)")
	f.StringVar(&serveFlags.bind, "bind", "", "Bridge bind address")
	f.StringVar(&serveFlags.target, "target", "", "Web app URL for the page host to proxy")
	f.IntVar(&serveFlags.pagePort, "page-port", 0, "Page host port")
	f.StringVar(&serveFlags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.BoolVar(&serveFlags.directEval, "direct-eval", false, "Let pages answer evaluations directly")
}

func loadServeConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(serveFlags.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = serveFlags.port
	}
	if flags.Changed("bind") {
		cfg.BindAddress = serveFlags.bind
	}
	if flags.Changed("target") {
		cfg.PageHost.Target = serveFlags.target
	}
	if flags.Changed("page-port") {
		cfg.PageHost.Port = serveFlags.pagePort
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = serveFlags.logLevel
	}
	if flags.Changed("direct-eval") {
		cfg.PageHost.DirectEval = serveFlags.directEval
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}
	logger := log.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	host, err := pagehost.New(cfg.PageHost, logger)
	if err != nil {
		return err
	}
	server := bridge.New(cfg, bridge.Host{
		Windows:  host.Windows(),
		Commands: hostCommands(cfg),
		Emitter:  host,
	}, logger)
	host.Attach(server)

	if err := host.Start(ctx); err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		_ = host.Stop(context.Background())
		return err
	}

	logger.Info("wvbridge ready",
		"version", appVersion,
		"bridge", "ws://"+server.Addr(),
		"pages", "http://"+host.Addr(),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Bridge: ws://%s\nOpen:   http://%s/\n", server.Addr(), host.Addr())

	<-ctx.Done()
	logger.Info("shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := server.Stop(stopCtx); err != nil {
		logger.Warn("bridge stop", "error", err)
	}
	if err := host.Stop(stopCtx); err != nil {
		logger.Warn("page host stop", "error", err)
	}
	return nil
}

// hostCommands are the commands the page host exposes to invoke_command and
// to pages calling __WVBRIDGE__.invoke.
func hostCommands(cfg *config.Config) *bridge.CommandMap {
	cmds := bridge.NewCommandMap()
	cmds.Register("echo", func(_ context.Context, args json.RawMessage) (any, error) {
		if len(args) == 0 {
			return nil, nil
		}
		return args, nil
	})
	cmds.Register("app_info", func(context.Context, json.RawMessage) (any, error) {
		return map[string]string{
			"name":       cfg.App.Name,
			"identifier": cfg.App.Identifier,
			"version":    cfg.App.Version,
		}, nil
	})
	cmds.Register("list_commands", func(context.Context, json.RawMessage) (any, error) {
		return cmds.Names(), nil
	})
	return cmds
}
