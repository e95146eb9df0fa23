package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newStateCmd() *cobra.Command {
	flags := &targetFlags{}

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Query device identity and state",
		Example: `  adsdiag state --target 192.168.0.10
  adsdiag state --target 192.168.0.10:48898 --ams-port 851`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(cmd.Context(), flags)
		},
	}

	flags.register(cmd)

	return cmd
}

func runState(ctx context.Context, flags *targetFlags) error {
	client, err := flags.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	info, err := client.ReadDeviceInfo(ctx)
	if err != nil {
		return fmt.Errorf("read device info: %w", err)
	}

	state, err := client.ReadState(ctx)
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}

	fmt.Printf("device:       %s\n", info.DeviceName)
	fmt.Printf("version:      %d.%d.%d\n", info.MajorVersion, info.MinorVersion, info.BuildVersion)
	fmt.Printf("ads state:    %s\n", state.ADSState.String())
	fmt.Printf("device state: %d\n", state.DeviceState)

	return nil
}
