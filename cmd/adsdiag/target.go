package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/plcforge/go-ads/ads"
	"github.com/plcforge/go-ads/ams"
)

// targetFlags are the connection flags shared by every command that
// dials a device.
type targetFlags struct {
	target  string
	netID   string
	amsPort uint16
	timeout time.Duration
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.target, "target", "", "router address as host:port")
	cmd.Flags().StringVar(&f.netID, "netid", "", "target AMS NetID a.b.c.d.e.f (derived from an IPv4 host when omitted)")
	cmd.Flags().Uint16Var(&f.amsPort, "ams-port", uint16(ads.DefaultTargetPort), "target AMS port")
	cmd.Flags().DurationVar(&f.timeout, "timeout", ads.DefaultRequestTimeout, "per-request timeout")

	_ = cmd.MarkFlagRequired("target")
}

// connect dials the flagged target. The caller owns the client.
func (f *targetFlags) connect(ctx context.Context) (*ads.Client, error) {
	host, port, err := splitTarget(f.target)
	if err != nil {
		return nil, err
	}

	opts := []ads.Option{
		ads.WithTargetPort(ams.Port(f.amsPort)),
		ads.WithRequestTimeout(f.timeout),
	}

	if f.netID != "" {
		netID, err := ams.ParseNetID(f.netID)
		if err != nil {
			return nil, err
		}

		opts = append(opts, ads.WithTargetNetID(netID))
	}

	cfg, err := ads.NewConfig(host, port, opts...)
	if err != nil {
		return nil, err
	}

	return ads.Connect(ctx, cfg)
}

// splitTarget splits "host:port" and accepts a bare host, which uses
// the default AMS TCP port.
func splitTarget(target string) (string, int, error) {
	if target == "" {
		return "", 0, fmt.Errorf("target address required")
	}

	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return target, ams.DefaultTCPPort, nil
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q in target %q", portStr, target)
	}

	return host, port, nil
}

// parseUint32 accepts decimal and 0x-prefixed hex, matching how index
// groups are usually written.
func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}

	return uint32(v), nil
}
