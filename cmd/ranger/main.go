// Command ranger runs a chirp spread spectrum two-way ranging node.
//
// The initiator and responder subcommands drive a USB-attached ranging
// modem; demo runs a matched pair over a simulated link in one process.
package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/chirp-ranging/ranging"
)

var (
	flagSpreadingFactor int
	flagBandwidthHz     uint32
	flagFrequencyHz     uint32
	flagAddress         uint32
	flagPeer            uint32
	flagSymbols         int
	flagExtended        bool
	flagSpy             bool
	flagInterval        time.Duration
	flagRssiOffsetDb    int32
	flagTxRxDelayTicks  int32

	flagSerial      string
	flagMetricsAddr string
	flagHistorySize int
	flagUI          bool

	flagDistance float64
	flagVelocity float64
	flagLossRate float64
	flagNoise    float64
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ranger",
		Short: "Two-way chirp spread spectrum ranging between two radio nodes",
		Long: `ranger measures the distance, and in extended mode the relative radial
velocity, between two half-duplex radio nodes using round-trip time of
flight over chirp spread spectrum exchanges.

One node runs the initiator subcommand, its peer runs responder. The
demo subcommand wires both roles to a simulated link in one process so
the full pipeline can be exercised without hardware.`,
	}

	pf := rootCmd.PersistentFlags()
	pf.IntVar(&flagSpreadingFactor, "sf", 9, "LoRa spreading factor (5-12)")
	pf.Uint32Var(&flagBandwidthHz, "bw", 1625000, "Bandwidth in Hz")
	pf.Uint32Var(&flagFrequencyHz, "freq", 2440000000, "RF carrier frequency in Hz")
	pf.Uint32Var(&flagAddress, "address", 0x00000001, "This node's ranging address")
	pf.Uint32Var(&flagPeer, "peer", 0x00000002, "Peer address an initiator calls")
	pf.IntVar(&flagSymbols, "symbols", 10, "Ranging symbols per exchange (1-255)")
	pf.BoolVar(&flagExtended, "extended", false, "Extended mode: two sub-exchanges, adds relative velocity")
	pf.BoolVar(&flagSpy, "spy", false, "Responder also reads results of overheard exchanges")
	pf.DurationVar(&flagInterval, "interval", time.Second, "Pause between ranging cycles on the initiator")
	pf.Int32Var(&flagRssiOffsetDb, "rssi-offset", 0, "Calibration offset applied to reported RSSI, in dB")
	pf.Int32Var(&flagTxRxDelayTicks, "txrx-delay", 0, "Turnaround delay calibration in ticks (required for extended mode)")
	pf.StringVar(&flagMetricsAddr, "metrics-addr", ":9090", "HTTP address for /metrics and /measurements, empty to disable")
	pf.IntVar(&flagHistorySize, "history", 256, "Measurements kept for /measurements and the watch view")
	pf.BoolVar(&flagUI, "ui", false, "Render a live terminal view instead of log output")

	initiatorCmd := &cobra.Command{
		Use:   "initiator",
		Short: "Run the node that transmits ranging requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModem(cmd.Context(), ranging.RoleInitiator)
		},
	}
	responderCmd := &cobra.Command{
		Use:   "responder",
		Short: "Run the node that answers ranging requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModem(cmd.Context(), ranging.RoleResponder)
		},
	}
	for _, c := range []*cobra.Command{initiatorCmd, responderCmd} {
		c.Flags().StringVar(&flagSerial, "serial", "", "Select the modem by USB serial number")
	}

	demoCmd := &cobra.Command{
		Use:   "demo",
		Short: "Run both roles over a simulated link in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context())
		},
	}
	demoCmd.Flags().Float64Var(&flagDistance, "distance", 150, "Simulated distance in meters")
	demoCmd.Flags().Float64Var(&flagVelocity, "velocity", 0, "Simulated radial velocity in km/h, positive receding")
	demoCmd.Flags().Float64Var(&flagLossRate, "loss", 0, "Fraction of exchanges lost in flight (0-1)")
	demoCmd.Flags().Float64Var(&flagNoise, "noise", 2, "Gaussian noise on raw tick counts, in ticks")

	rootCmd.AddCommand(initiatorCmd, responderCmd, demoCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func modulationFromFlags() ranging.ModulationParams {
	return ranging.ModulationParams{
		SpreadingFactor: flagSpreadingFactor,
		BandwidthHz:     flagBandwidthHz,
		RfFrequencyHz:   flagFrequencyHz,
	}
}

func configFromFlags(role ranging.Role) ranging.RangingConfig {
	cfg := ranging.RangingConfig{
		Role:           role,
		Extended:       flagExtended,
		SpyMode:        flagSpy,
		NumSymbols:     flagSymbols,
		DeviceAddress:  flagAddress,
		RequestAddress: flagPeer,
		TxRxDelayTicks: flagTxRxDelayTicks,
		RssiOffsetDb:   flagRssiOffsetDb,
		Interval:       flagInterval,
	}
	if role == ranging.RoleResponder {
		cfg.RequestAddress = 0
	}
	return cfg
}
