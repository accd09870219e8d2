package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codefionn/sockpong/internal/config"
	"github.com/codefionn/sockpong/internal/logger"
)

// app carries state shared by all subcommands, filled in PersistentPreRunE
type app struct {
	cfgFile    string
	socketPath string
	logLevel   string
	logPath    string

	cfg *config.Config
	log *logger.Logger
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "sockpong",
		Short: "Ping/pong messaging over a local Unix domain socket",
		Long: `sockpong runs a server that answers every line it receives with "pong",
and a client that keeps its connection alive across server restarts,
queueing messages while the server is unreachable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (.json, .yaml or .yml; default "+config.GetConfigPath()+")")
	flags.StringVarP(&a.socketPath, "socket", "s", "", "socket path (default "+config.DefaultSocketPath()+")")
	flags.StringVar(&a.logLevel, "log-level", "", "debug, info, warn, error or none")
	flags.StringVar(&a.logPath, "log-file", "", "write logs to this file instead of stderr")

	root.AddCommand(
		newServeCmd(a),
		newConnectCmd(a),
		newSendCmd(a),
		newVersionCmd(),
	)
	return root
}

// load reads the config file, applies SOCKPONG_* variables and flags, in
// that order, and sets up logging
func (a *app) load(cmd *cobra.Command) error {
	path := a.cfgFile
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv()

	flags := cmd.Flags()
	if flags.Changed("socket") {
		cfg.Socket.Path = a.socketPath
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("log-file") {
		cfg.LogPath = a.logPath
	}

	l, err := logger.New(logger.ParseLevel(cfg.LogLevel), cfg.LogPath, "")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetGlobal(l)
	a.log = l
	a.cfg = cfg
	return nil
}
