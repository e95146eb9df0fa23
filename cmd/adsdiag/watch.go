package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/plcforge/go-ads/ams"
)

type watchFlags struct {
	targetFlags
	length   uint32
	cycle    time.Duration
	onChange bool
}

func newWatchCmd() *cobra.Command {
	flags := &watchFlags{}

	cmd := &cobra.Command{
		Use:   "watch SYMBOL",
		Short: "Subscribe to a symbol and stream its samples",
		Long: `Register a device notification on a symbol and print every sample
until interrupted. By default the device pushes the value on every
cycle; with --on-change it pushes only when the value changes.`,
		Example: `  adsdiag watch --target 192.168.0.10 MAIN.counter --cycle 100ms
  adsdiag watch --target 192.168.0.10 MAIN.setpoint --on-change`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(flags, args[0])
		},
	}

	flags.register(cmd)
	cmd.Flags().Uint32Var(&flags.length, "length", 4, "number of bytes per sample")
	cmd.Flags().DurationVar(&flags.cycle, "cycle", 100*time.Millisecond, "notification cycle time")
	cmd.Flags().BoolVar(&flags.onChange, "on-change", false, "push only when the value changes")

	return cmd
}

func runWatch(flags *watchFlags, symbol string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := flags.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	mode := ams.TransServerCycle
	if flags.onChange {
		mode = ams.TransServerOnChange
	}

	sub, err := client.Subscribe(ctx, symbol, flags.length, mode, flags.cycle, 0)
	if err != nil {
		return err
	}

	var reported uint64

	for {
		select {
		case <-ctx.Done():
			closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()

			return sub.Close(closeCtx)

		case sample, ok := <-sub.Samples():
			if !ok {
				return fmt.Errorf("connection lost")
			}

			fmt.Printf("%s  %s\n", sample.Timestamp.Format(time.RFC3339Nano), formatValue(sample.Data))

			if dropped := sub.Dropped(); dropped > reported {
				fmt.Fprintf(os.Stderr, "warning: %d samples dropped\n", dropped-reported)
				reported = dropped
			}
		}
	}
}
