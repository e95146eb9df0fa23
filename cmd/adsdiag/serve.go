package main

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/plcforge/go-ads/adstest"
	"github.com/plcforge/go-ads/ams"
	"github.com/plcforge/go-ads/logger"
)

type serveFlags struct {
	listen  string
	slaves  []int
	symbols []string
	tick    time.Duration
}

func newServeCmd() *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a standalone mock ADS server",
		Long: `Run the protocol-compliant mock server on its own, for trying the
client commands without hardware. The server starts with a small demo
population: a MAIN.counter symbol that ticks once a second and a few
operational EtherCAT slaves.`,
		Example: `  adsdiag serve
  adsdiag serve --listen 0.0.0.0:48898 --slaves 1001,1002,1003
  adsdiag serve --symbol MAIN.valve=01 --symbol MAIN.speed=e8030000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flags)
		},
	}

	cmd.Flags().StringVar(&flags.listen, "listen", fmt.Sprintf("127.0.0.1:%d", ams.DefaultTCPPort), "listen address")
	cmd.Flags().IntSliceVar(&flags.slaves, "slaves", []int{1001, 1002}, "EtherCAT slave addresses to simulate")
	cmd.Flags().StringArrayVar(&flags.symbols, "symbol", nil, "extra symbol as name=hexvalue, repeatable")
	cmd.Flags().DurationVar(&flags.tick, "tick", time.Second, "MAIN.counter increment interval, 0 disables")

	return cmd
}

func runServe(flags *serveFlags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.GetLogger()

	opts := []adstest.ServerOption{
		adstest.WithListenAddr(flags.listen),
		adstest.WithSymbol("MAIN.counter", make([]byte, 4)),
	}

	for _, addr := range flags.slaves {
		if addr < 1 || addr > 65535 {
			return fmt.Errorf("slave address %d out of range", addr)
		}

		opts = append(opts, adstest.WithSlaves(uint16(addr)))
	}

	for _, spec := range flags.symbols {
		name, value, err := parseSymbolSpec(spec)
		if err != nil {
			return err
		}

		opts = append(opts, adstest.WithSymbol(name, value))
	}

	srv := adstest.NewServer(opts...)
	if err := srv.Start(); err != nil {
		return err
	}

	log.Info("mock server listening", "addr", srv.Addr(), "slaves", len(flags.slaves))

	var tickC <-chan time.Time

	if flags.tick > 0 {
		ticker := time.NewTicker(flags.tick)
		defer ticker.Stop()
		tickC = ticker.C
	}

	var counter uint32

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return srv.Stop()
		case <-tickC:
			counter++

			value := make([]byte, 4)
			binary.LittleEndian.PutUint32(value, counter)
			srv.SetSymbol("MAIN.counter", value)
		}
	}
}

// parseSymbolSpec parses "name=hexvalue" into a symbol definition.
func parseSymbolSpec(spec string) (string, []byte, error) {
	name, hexValue, ok := strings.Cut(spec, "=")
	if !ok || name == "" {
		return "", nil, fmt.Errorf("invalid symbol %q, want name=hexvalue", spec)
	}

	value, err := hex.DecodeString(hexValue)
	if err != nil || len(value) == 0 {
		return "", nil, fmt.Errorf("invalid hex value in symbol %q", spec)
	}

	return name, value, nil
}
