package main

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

type readFlags struct {
	targetFlags
	length uint32
	group  string
	offset string
}

func newReadCmd() *cobra.Command {
	flags := &readFlags{}

	cmd := &cobra.Command{
		Use:   "read [symbol]",
		Short: "Read a symbol or a raw index address once",
		Long: `Read a named symbol, or a raw index group and offset when --group is
given. The value is printed as hex; 2, 4 and 8 byte values also decode
as little-endian unsigned integers.`,
		Example: `  adsdiag read --target 192.168.0.10 MAIN.counter --length 4
  adsdiag read --target 192.168.0.10 --group 0x4020 --offset 0 --length 8`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cmd.Context(), flags, args)
		},
	}

	flags.register(cmd)
	cmd.Flags().Uint32Var(&flags.length, "length", 4, "number of bytes to read")
	cmd.Flags().StringVar(&flags.group, "group", "", "index group (decimal or 0x hex) instead of a symbol")
	cmd.Flags().StringVar(&flags.offset, "offset", "0", "index offset (decimal or 0x hex)")

	return cmd
}

func runRead(ctx context.Context, flags *readFlags, args []string) error {
	if len(args) == 0 && flags.group == "" {
		return fmt.Errorf("a symbol name or --group is required")
	}

	if len(args) > 0 && flags.group != "" {
		return fmt.Errorf("a symbol name and --group are mutually exclusive")
	}

	client, err := flags.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	var data []byte

	if len(args) > 0 {
		data, err = client.ReadSymbol(ctx, args[0], flags.length)
	} else {
		var group, offset uint32

		group, err = parseUint32(flags.group)
		if err != nil {
			return err
		}

		offset, err = parseUint32(flags.offset)
		if err != nil {
			return err
		}

		data, err = client.Read(ctx, group, offset, flags.length)
	}

	if err != nil {
		return err
	}

	fmt.Println(formatValue(data))

	return nil
}

// formatValue renders a value as hex, with a little-endian unsigned
// decode for common integer widths.
func formatValue(data []byte) string {
	h := hex.EncodeToString(data)

	switch len(data) {
	case 2:
		return fmt.Sprintf("0x%s (%d)", h, binary.LittleEndian.Uint16(data))
	case 4:
		return fmt.Sprintf("0x%s (%d)", h, binary.LittleEndian.Uint32(data))
	case 8:
		return fmt.Sprintf("0x%s (%d)", h, binary.LittleEndian.Uint64(data))
	default:
		return "0x" + h
	}
}
