package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/plcforge/go-ads/ads"
	"github.com/plcforge/go-ads/ams"
	"github.com/plcforge/go-ads/diag"
	"github.com/plcforge/go-ads/logger"
)

func newPollCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Poll EtherCAT slave diagnostics periodically",
		Long: `Sweep the configured slaves on a fixed interval: AL state, frame and
CRC error counters and lost-link counters. Results are logged; a sweep
that fails is logged and polling continues. A lost connection is
redialed on the next sweep.`,
		Example: `  adsdiag poll --config poll.yaml`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadPollConfig(configPath)
			if err != nil {
				return err
			}

			return runPoll(cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "poll.yaml", "polling config file")

	return cmd
}

func connectPollTarget(ctx context.Context, cfg *pollConfig) (*ads.Client, error) {
	host, port, err := splitTarget(cfg.Target)
	if err != nil {
		return nil, err
	}

	opts := []ads.Option{
		ads.WithTargetPort(ams.Port(cfg.AMSPort)),
		ads.WithRequestTimeout(time.Duration(cfg.TimeoutMs) * time.Millisecond),
	}

	if cfg.NetID != "" {
		netID, err := ams.ParseNetID(cfg.NetID)
		if err != nil {
			return nil, err
		}

		opts = append(opts, ads.WithTargetNetID(netID))
	}

	clientCfg, err := ads.NewConfig(host, port, opts...)
	if err != nil {
		return nil, err
	}

	return ads.Connect(ctx, clientCfg)
}

func runPoll(cfg *pollConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.GetLogger()

	client, err := connectPollTarget(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	monitor := diag.NewMonitor(client, diag.WithDeviceID(cfg.DeviceID))

	if cfg.ResetOnStart {
		for _, slave := range cfg.Slaves {
			if err := monitor.ResetFrameCounters(ctx, slave); err != nil {
				log.Warn("frame counter reset failed", "slave", slave, "error", err)
			}

			if err := monitor.ResetLostLinkCounters(ctx, slave); err != nil {
				log.Warn("lost-link counter reset failed", "slave", slave, "error", err)
			}
		}
	}

	interval := time.Duration(cfg.IntervalMs) * time.Millisecond

	log.Info("polling started",
		"target", cfg.Target,
		"slaves", len(cfg.Slaves),
		"interval", interval.String(),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("polling stopped")
			return nil
		case <-ticker.C:
			sweep(ctx, log, client, monitor, cfg)
		}
	}
}

// sweep runs one diagnostic pass. Failures are logged and the loop
// keeps going; a dead connection is redialed so a restarted device
// picks up again without restarting the poller.
func sweep(ctx context.Context, log logger.Logger, client *ads.Client, monitor *diag.Monitor, cfg *pollConfig) {
	report, err := monitor.CheckBus(ctx, cfg.Slaves)
	if err != nil {
		log.Error("diagnostic sweep failed", "error", err)

		if errors.Is(err, ads.ErrConnClosed) {
			if err := client.Reconnect(ctx); err != nil {
				log.Warn("reconnect failed", "error", err)
			} else {
				log.Info("reconnected", "generation", client.Generation())
			}
		}

		return
	}

	for _, slave := range cfg.Slaves {
		state := report.States[slave]
		crc := report.CRC[slave]
		lost := report.LostLinks[slave]

		if state.Operational() && !crc.HasErrors() && lost.Total() == 0 {
			log.Debug("slave healthy", "slave", slave, "state", state.State.String())
			continue
		}

		log.Warn("slave degraded",
			"slave", slave,
			"state", state.State.String(),
			"al_error", state.Error,
			"crc_errors", crc.Total(),
			"lost_links", lost.Total(),
		)
	}

	if report.Healthy() {
		log.Info("bus healthy", "slaves", len(cfg.Slaves))
	} else {
		log.Warn("bus unhealthy", "slaves", len(cfg.Slaves))
	}
}
