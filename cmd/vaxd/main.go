// Command vaxd hosts a vaxipc session server: it advertises the
// protocols declared in a YAML spec file over a Unix socket, accepting
// one session per connection. Grounded on thiagojdb-adoctl's cmd/root.go
// cobra skeleton (persistent --log-level flag wired to package logging).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vaxipc/logging"
	"vaxipc/middleware"
	"vaxipc/proto"
	"vaxipc/protoconf"
	"vaxipc/session"
)

var (
	socketPath    string
	protocolsPath string
	logLevel      string
	versions      []int
	rateLimit     float64
	rateBurst     int
)

var rootCmd = &cobra.Command{
	Use:   "vaxd",
	Short: "Host a vaxipc session server over a Unix socket",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.SetLevel(logLevel)
		return nil
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, fatal, panic)")
	rootCmd.Flags().StringVar(&socketPath, "socket", "/tmp/vaxipc.sock", "Unix socket path to listen on")
	rootCmd.Flags().StringVar(&protocolsPath, "protocols", "", "Path to a protocols.yaml describing the advertised protocol set")
	rootCmd.Flags().IntSliceVar(&versions, "versions", []int{1}, "Handshake versions this server supports")
	rootCmd.Flags().Float64Var(&rateLimit, "rate-limit", 0, "Per-session dispatch rate limit in calls/sec (0 disables)")
	rootCmd.Flags().IntVar(&rateBurst, "rate-burst", 8, "Burst size for --rate-limit")
}

// validateFlags checks the flag combination before any I/O happens.
func validateFlags(protocolsPath string) error {
	if protocolsPath == "" {
		return fmt.Errorf("vaxd: --protocols is required")
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logging.Component("vaxd")
	if err := validateFlags(protocolsPath); err != nil {
		return err
	}

	specs, err := protoconf.Load(protocolsPath)
	if err != nil {
		return fmt.Errorf("vaxd: loading protocol specs: %w", err)
	}
	table := proto.NewTable(specs)

	wantVersions := make([]uint32, len(versions))
	for i, v := range versions {
		wantVersions[i] = uint32(v)
	}

	srv := session.NewServer(table, wantVersions, log)
	if rateLimit > 0 {
		// A fresh limiter per accepted session, so sessions do not share tokens.
		srv.OnSession(func(ss *session.ServerSession) {
			ss.UseMiddleware(middleware.RateLimit(rateLimit, rateBurst), middleware.Logging(log))
		})
	} else {
		srv.Use(middleware.Logging(log))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutting down")
		if err := srv.Shutdown(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("shutdown did not complete cleanly")
		}
	}()

	log.Info().Str("socket", socketPath).Strs("protocols", table.Advertised()).Msg("listening")
	return srv.Serve(socketPath)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
