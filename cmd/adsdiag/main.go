// adsdiag is a command line client for ADS devices: one-shot reads,
// device state queries, notification watching, periodic EtherCAT
// diagnostics and a standalone mock server for testing without
// hardware.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/plcforge/go-ads/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "adsdiag",
		Short: "ADS client and EtherCAT diagnostics tool",
		Long: `adsdiag talks to ADS devices over AMS/TCP: it reads symbols and raw
index addresses, queries device state, streams notification samples and
polls EtherCAT slave diagnostics from a YAML config. The serve command
runs a protocol-compliant mock server for testing without hardware.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setLogLevel(logLevel)
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(newReadCmd())
	cmd.AddCommand(newStateCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newPollCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func setLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug":
		logger.SetLevel(logger.DebugLevel)
	case "info":
		logger.SetLevel(logger.InfoLevel)
	case "warn":
		logger.SetLevel(logger.WarnLevel)
	case "error":
		logger.SetLevel(logger.ErrorLevel)
	default:
		return fmt.Errorf("unknown log level %q", level)
	}

	return nil
}
