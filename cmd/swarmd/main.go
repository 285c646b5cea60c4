// Command swarmd is the thin cobra entrypoint for a single swarm node,
// grounded on the teacher's cmd/ollamacron/main.go: a root command with
// global logging/config flags, a handful of mode subcommands, and a
// construct -> start -> wait-for-signal -> graceful-shutdown sequence.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hivemesh/swarmcore/internal/config"
	"github.com/hivemesh/swarmcore/pkg/id"
	"github.com/hivemesh/swarmcore/pkg/supervisor"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "swarmd",
		Short:   "swarmd - distributed agent swarm orchestrator",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initLogging(cmd)
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, console)")

	rootCmd.AddCommand(
		buildRunCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("swarmd exited with error")
	}
}

func initLogging(cmd *cobra.Command) error {
	level, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")

	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	zerolog.SetGlobalLevel(parsed)
	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return nil
}

func buildRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run a swarm node, wiring every core component and serving the pub/sub transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile, _ := cmd.Flags().GetString("config")
			nodeID, _ := cmd.Flags().GetString("node-id")
			role, _ := cmd.Flags().GetString("role")
			listen, _ := cmd.Flags().GetString("listen")
			topologyType, _ := cmd.Flags().GetString("topology")

			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if nodeID != "" {
				cfg.Node.ID = nodeID
			}
			if cfg.Node.ID == "" {
				cfg.Node.ID = id.New("node")
			}
			if role != "" {
				cfg.Node.Role = role
			}
			if topologyType != "" {
				cfg.Topology.Type = topologyType
			}
			if listen != "" {
				host, port, parseErr := splitListen(listen)
				if parseErr != nil {
					return parseErr
				}
				cfg.Transport.Host = host
				cfg.Transport.Port = port
			}

			nodeLog := log.With().Str("component", "swarmd").Str("node_id", cfg.Node.ID).Logger()

			sup, err := supervisor.New(cfg, nodeLog)
			if err != nil {
				return fmt.Errorf("wire supervisor: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := sup.Start(ctx); err != nil {
				return fmt.Errorf("start supervisor: %w", err)
			}

			<-ctx.Done()
			nodeLog.Info().Msg("shutdown signal received")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return sup.Shutdown(shutdownCtx, supervisor.DefaultShutdownGrace)
		},
	}

	cmd.Flags().String("node-id", "", "node id (auto-generated if empty)")
	cmd.Flags().String("role", "worker", "node role (queen, worker, coordinator)")
	cmd.Flags().String("listen", "", "transport listen address, host:port")
	cmd.Flags().String("topology", "", "topology strategy override (hierarchical, mesh, hierarchical-mesh, adaptive)")

	return cmd
}

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "generate [file]",
		Short: "write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			filename := "config.yaml"
			if len(args) > 0 {
				filename = args[0]
			}
			if err := config.DefaultConfig().Save(filename); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Printf("wrote default configuration to %s\n", filename)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile, _ := cmd.Flags().GetString("config")
			if _, err := config.Load(configFile); err != nil {
				return err
			}
			fmt.Println("configuration is valid")
			return nil
		},
	})
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("swarmd %s (%s)\n", version, commit)
		},
	}
}

func splitListen(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid --listen %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in --listen %q: %w", addr, err)
	}
	return host, port, nil
}

func init() {
	viper.SetEnvPrefix("SWARM")
	viper.AutomaticEnv()
}
