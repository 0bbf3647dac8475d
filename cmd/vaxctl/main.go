// Command vaxctl dials a vaxipc session server, performs the handshake,
// and optionally binds a protocol, printing what the server advertised.
// Grounded on thiagojdb-adoctl's cmd/root.go cobra skeleton.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"vaxipc/logging"
	"vaxipc/proto"
	"vaxipc/protoconf"
	"vaxipc/registry"
	"vaxipc/session"
	"vaxipc/transport"
)

var (
	socketPath    string
	logLevel      string
	wantVersion   uint32
	bindTarget    string
	protocolsPath string
)

var rootCmd = &cobra.Command{
	Use:   "vaxctl",
	Short: "Dial a vaxipc session server and inspect what it advertises",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.SetLevel(logLevel)
		return nil
	},
	RunE: runDial,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/tmp/vaxipc.sock", "Unix socket path to dial")
	rootCmd.PersistentFlags().Uint32Var(&wantVersion, "version", 1, "Handshake version to request")
	rootCmd.PersistentFlags().StringVar(&bindTarget, "bind", "", "Optional \"name@version\" protocol to bind after the handshake")
	rootCmd.PersistentFlags().StringVar(&protocolsPath, "protocols", "", "Path to a protocols.yaml describing --bind's schema (required when --bind is set)")
}

// validateFlags checks the flag combination before any I/O happens.
func validateFlags(bindTarget, protocolsPath string) error {
	if bindTarget != "" && protocolsPath == "" {
		return fmt.Errorf("vaxctl: --bind requires --protocols (the client needs the schema locally to decode replies)")
	}
	return nil
}

func runDial(cmd *cobra.Command, args []string) error {
	log := logging.Component("vaxctl")

	if err := validateFlags(bindTarget, protocolsPath); err != nil {
		return err
	}

	conn, err := transport.Dial(socketPath)
	if err != nil {
		return fmt.Errorf("vaxctl: dial %s: %w", socketPath, err)
	}

	var specs []proto.ProtocolSpec
	if protocolsPath != "" {
		specs, err = protoconf.Load(protocolsPath)
		if err != nil {
			return fmt.Errorf("vaxctl: loading protocol specs: %w", err)
		}
	}
	reg := registry.New(proto.NewTable(specs), false)
	cli := session.NewClientSession(conn, reg)
	cli.SetLogger(log)

	advertised, err := cli.Handshake(wantVersion)
	if err != nil {
		return fmt.Errorf("vaxctl: handshake failed: %w", err)
	}
	fmt.Printf("negotiated version %d, server advertises: %v\n", cli.NegotiatedVersion(), advertised)

	if bindTarget == "" {
		return cli.Close()
	}

	cli.StartRecvLoop()
	handle, err := cli.Bind(bindTarget)
	if err != nil {
		return fmt.Errorf("vaxctl: bind %s: %w", bindTarget, err)
	}
	fmt.Printf("bound %s to handle %d\n", bindTarget, handle)

	if err := cli.Roundtrip(5 * time.Second); err != nil {
		return fmt.Errorf("vaxctl: roundtrip: %w", err)
	}
	fmt.Println("roundtrip complete")
	return cli.Close()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
