package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/doublegate/prort-ip/internal/config"
	"github.com/doublegate/prort-ip/internal/logging"
)

var (
	cfgFile string
	verbose bool
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "prortip",
	Short: "Raw-packet network scanner",
	Long: `prort-ip sends and correlates raw TCP/UDP/ICMP probes to determine
port state, infer a remote OS from its TCP/IP stack behavior, and identify
the service listening on an open port.`,
	Version: getVersion(),
}

// Execute runs the root command; called once from main. A scan in
// progress saves a checkpoint and exits cleanly on SIGINT (os.Interrupt)
// rather than leaving the interface in a filtered BPF state; SIGTERM is
// not intercepted.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// SetVersion records build metadata shown by --version.
func SetVersion(v, c, bt string) {
	version, commit, buildTime = v, c, bt
	rootCmd.Version = getVersion()
}

func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

func init() {
	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml/json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(newScanCmd())
}

// loadConfig loads cfgFile if set, otherwise falls back to Default().
func loadConfig() *config.Config {
	if cfgFile == "" {
		return config.Default()
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func initLogging() {
	cfg := config.Default()
	if cfgFile != "" {
		if loaded, err := config.Load(cfgFile); err == nil {
			cfg = loaded
		}
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:     logging.LogLevel(level),
		Format:    logging.LogFormat(cfg.Logging.Format),
		Output:    cfg.Logging.Output,
		AddSource: level == "debug",
	})
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)
}
