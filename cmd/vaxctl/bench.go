package main

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spf13/cobra"

	"vaxipc/logging"
	"vaxipc/proto"
	"vaxipc/protoconf"
	"vaxipc/registry"
	"vaxipc/session"
	"vaxipc/transport"
)

var (
	benchRequests    int
	benchConcurrency int
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Open many one-shot handshake sessions against a server, bounded in flight",
	RunE:  runBench,
}

func init() {
	benchCmd.Flags().IntVar(&benchRequests, "requests", 100, "Total handshake sessions to perform")
	benchCmd.Flags().IntVar(&benchConcurrency, "concurrency", 8, "Maximum connections outstanding at once")
	rootCmd.AddCommand(benchCmd)
}

// runBench drives --requests one-shot handshake (and optional bind)
// sessions through a SocketPool capped at --concurrency. Every session's
// connection runs through exactly one handshake and is never reusable
// for a second one, so the pool never returns a live connection to
// circulation here — its only job is to bound how many dials are in
// flight at once, the way a semaphore would, while still exercising
// Get/Put/MarkUnusable the way a caller with genuinely reusable
// connections could.
func runBench(cmd *cobra.Command, args []string) error {
	log := logging.Component("vaxctl-bench")

	if err := validateFlags(bindTarget, protocolsPath); err != nil {
		return err
	}

	var specs []proto.ProtocolSpec
	var err error
	if protocolsPath != "" {
		specs, err = protoconf.Load(protocolsPath)
		if err != nil {
			return fmt.Errorf("vaxctl: loading protocol specs: %w", err)
		}
	}

	pool := transport.NewSocketPool(socketPath, benchConcurrency)
	defer pool.Close()

	var succeeded, failed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < benchRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			conn, err := pool.Get()
			if err != nil {
				failed.Add(1)
				log.Warn().Err(err).Int("request", n).Msg("dial failed")
				return
			}
			defer func() {
				conn.MarkUnusable()
				pool.Put(conn)
			}()

			reg := registry.New(proto.NewTable(specs), false)
			cli := session.NewClientSession(conn.UnixConn, reg)
			if _, err := cli.Handshake(wantVersion); err != nil {
				failed.Add(1)
				log.Warn().Err(err).Int("request", n).Msg("handshake failed")
				return
			}

			if bindTarget != "" {
				cli.StartRecvLoop()
				if _, err := cli.Bind(bindTarget); err != nil {
					failed.Add(1)
					log.Warn().Err(err).Int("request", n).Msg("bind failed")
					return
				}
			}

			cli.Close()
			succeeded.Add(1)
		}(i)
	}
	wg.Wait()

	fmt.Printf("completed %d/%d sessions (%d failed)\n", succeeded.Load(), benchRequests, failed.Load())
	return nil
}
