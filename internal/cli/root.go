// Package cli assembles the conductor's single command: a chain
// specification (repeated --proxy flags plus a terminal agent command)
// run until the editor disconnects, a component crashes, or a protocol
// error aborts startup.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"conductor/internal/chain"
	"conductor/internal/conductor"
	"conductor/internal/config"
	"conductor/internal/statusd"
	"conductor/pkg/logger"
)

// globalFlags holds the root command's persistent flags, mirroring the
// teacher's single package-level GlobalFlags rather than threading a
// flags struct through every subcommand.
type globalFlags struct {
	configPath string
	verbose    bool
	quiet      bool
	statusAddr string
	proxies    []string
}

var flags globalFlags

// NewRootCmd creates the conductor command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "conductor --proxy <id>... agent <args...>",
		Short: "Run a P/ACP proxy chain between an editor and a downstream agent",
		Long: `Conductor sits between an ACP editor and a downstream agent, inserting
a chain of proxy components that observe and transform the JSON-RPC
traffic passing between them.

The chain is given as a repeatable --proxy <id> flag, identifying
components by their registry entry, followed by the literal token
"agent" and the terminal downstream agent's own command line.`,
		Example:       "  conductor --proxy audit --proxy research agent claude-code-acp",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MinimumNArgs(2),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			return initRuntime()
		},
		RunE: runChain,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flags.quiet, "quiet", "q", false, "quiet mode")
	rootCmd.PersistentFlags().StringVar(&flags.statusAddr, "status-addr", "", "serve read-only chain status on this address (overrides config)")
	rootCmd.Flags().StringArrayVar(&flags.proxies, "proxy", nil, "append a component to the chain by registry id (repeatable)")

	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// initRuntime loads configuration and initializes the logger, the way
// the teacher's PersistentPreRunE prepares a CLI context before any
// subcommand runs.
func initRuntime() error {
	configPath := flags.configPath
	if configPath == "" {
		var err error
		configPath, err = config.DefaultConfigPath()
		if err != nil {
			return err
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := cfg.Log.Level
	if flags.verbose {
		level = "debug"
	}
	if flags.quiet {
		level = "error"
	}

	return logger.Init(logger.LogConfig{
		Level:  level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
}

// splitChainArgs separates the repeated --proxy ids (already collected
// in flags.proxies) from the positional "agent <args...>" tail.
func splitChainArgs(args []string) (agentCmd string, agentArgs []string, err error) {
	if len(args) < 1 || args[0] != "agent" {
		return "", nil, fmt.Errorf("conductor: expected the literal \"agent\" token followed by the downstream agent's command, got %q", args)
	}
	rest := args[1:]
	if len(rest) == 0 {
		return "", nil, fmt.Errorf("conductor: \"agent\" requires a command")
	}
	return rest[0], rest[1:], nil
}

// resolveChain builds the ordered component specs: each --proxy id
// looked up in the registry as an intermediate, followed by the literal
// terminal agent command.
func resolveChain(cfg *config.Config, agentCmd string, agentArgs []string) ([]chain.ComponentSpec, error) {
	specs := make([]chain.ComponentSpec, 0, len(flags.proxies)+1)
	for _, id := range flags.proxies {
		entry, ok := cfg.Registry[id]
		if !ok {
			return nil, fmt.Errorf("conductor: no registry entry for --proxy %q", id)
		}
		specs = append(specs, chain.ComponentSpec{
			ID:       id,
			Position: chain.PositionIntermediate,
			Command:  entry.Command,
			Args:     entry.Args,
			Env:      entry.Env,
		})
	}
	specs = append(specs, chain.ComponentSpec{
		ID:       "agent",
		Position: chain.PositionTerminal,
		Command:  agentCmd,
		Args:     agentArgs,
	})
	return specs, nil
}

func runChain(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	agentCmd, agentArgs, err := splitChainArgs(args)
	if err != nil {
		return err
	}

	specs, err := resolveChain(cfg, agentCmd, agentArgs)
	if err != nil {
		return err
	}

	cond, err := conductor.New(specs, cfg.Conductor.ShutdownGrace)
	if err != nil {
		return err
	}

	statusAddr := cfg.Status.Addr
	statusEnabled := cfg.Status.Enabled
	if flags.statusAddr != "" {
		statusAddr = flags.statusAddr
		statusEnabled = true
	}

	var statusSrv *statusd.Server
	if statusEnabled {
		hub := statusd.NewHub()
		cond.SetHub(hub)
		statusSrv = statusd.NewServer(statusAddr, cond, hub)
		go func() {
			if err := statusSrv.Start(); err != nil {
				logger.Warnf("conductor: status server: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Infof("conductor: received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	status := cond.Run(ctx, os.Stdin, os.Stdout)

	if statusSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Conductor.ShutdownGrace)
		defer shutdownCancel()
		_ = statusSrv.Shutdown(shutdownCtx)
	}

	logger.Infof("conductor: chain ended (%s)", status.Kind)
	if status.BridgeActivationRequired {
		logger.Warnf("conductor: a link requested MCP-over-ACP bridging it cannot itself perform")
	}

	cmd.SetContext(context.WithValue(cmd.Context(), exitCodeKey{}, int(status.Kind)))
	return nil
}

type exitCodeKey struct{}

// ExitCode extracts the run's exit code after Execute returns, defaulting
// to 0 (clean exit) if the command never ran a chain (e.g. "version").
func ExitCode(cmd *cobra.Command) int {
	if code, ok := cmd.Context().Value(exitCodeKey{}).(int); ok {
		return code
	}
	return 0
}
