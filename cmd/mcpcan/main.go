//go:build linux

// Command mcpcan exercises an MCP2517FD attached via spidev: dump
// prints bus traffic, send transmits a single frame. Without access
// to the interrupt line the controller is polled on a timer.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/knieriem/mcp2517fd"
	"github.com/knieriem/mcp2517fd/spidev"
)

var (
	devPath    string
	speedHz    uint32
	fd         bool
	loopback   bool
	listenOnly bool
	nbt        uint32
	dbt        uint32
	interval   time.Duration
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:           "mcpcan",
		Short:         "MCP2517FD CAN FD controller utility",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&devPath, "dev", "/dev/spidev0.0", "spidev device node")
	pf.Uint32Var(&speedHz, "spi-speed", 10_000_000, "SPI clock in Hz")
	pf.BoolVar(&fd, "fd", false, "CAN FD mode (64-byte payloads)")
	pf.BoolVar(&loopback, "loopback", false, "internal loopback mode")
	pf.BoolVar(&listenOnly, "listen-only", false, "listen-only mode")
	pf.Uint32Var(&nbt, "nbtcfg", 0x00_3E_0F_0F, "nominal bit timing register value")
	pf.Uint32Var(&dbt, "dbtcfg", 0x00_0E_03_03, "data bit timing register value")
	pf.DurationVar(&interval, "poll", 2*time.Millisecond, "status poll interval")
	pf.BoolVar(&verbose, "v", false, "verbose logging")

	root.AddCommand(dumpCmd(), sendCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mcpcan:", err)
		os.Exit(1)
	}
}

func openDev() (*mcp2517fd.Dev, func(), error) {
	zl := zap.NewNop()
	if verbose {
		var err error
		zl, err = zap.NewDevelopment()
		if err != nil {
			return nil, nil, err
		}
	}
	log := zapr.NewLogger(zl)

	conn, err := spidev.Open(devPath, speedHz)
	if err != nil {
		return nil, nil, err
	}
	d := mcp2517fd.NewDevice(conn, mcp2517fd.Config{
		FD:               fd,
		Loopback:         loopback,
		ListenOnly:       listenOnly,
		NominalBitTiming: nbt,
		DataBitTiming:    dbt,
		Log:              log,
	})
	if err := d.Open(); err != nil {
		conn.Close()
		return nil, nil, err
	}

	// No interrupt line available through spidev alone; poke the
	// poll loop periodically instead.
	stop := make(chan struct{})
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				d.Interrupt()
			case <-stop:
				return
			}
		}
	}()

	cleanup := func() {
		close(stop)
		d.Close()
		conn.Close()
	}
	return d, cleanup, nil
}

func dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "print received frames until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, cleanup, err := openDev()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			for {
				m, err := d.ReadMsg(ctx)
				if err != nil {
					return nil
				}
				fmt.Println(m)
			}
		},
	}
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send id [hexdata]",
		Short: "transmit a single frame",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 16, 32)
			if err != nil {
				return fmt.Errorf("bad id %q: %w", args[0], err)
			}
			var data []byte
			if len(args) == 2 {
				data, err = hex.DecodeString(args[1])
				if err != nil {
					return fmt.Errorf("bad data %q: %w", args[1], err)
				}
			}

			d, cleanup, err := openDev()
			if err != nil {
				return err
			}
			defer cleanup()

			var m mcp2517fd.Msg
			m.Id = uint32(id)
			if id > 0x7FF {
				m.Flags |= mcp2517fd.ExtFrame
			}
			if fd {
				m.Flags |= mcp2517fd.FDFrame
			}
			m.Len = len(data)
			copy(m.Data[:], data)
			if err := d.WriteMsg(&m); err != nil {
				return err
			}
			// allow the completion to drain before teardown
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
}
