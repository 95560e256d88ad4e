//go:build unix

// Command reactor-echo is a TCP echo server driven by a single reactor.
// Connections idle for longer than --idle-timeout are closed.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/go-reactor"
	"github.com/joeycumines/logiface"
	"github.com/spf13/cobra"
)

type config struct {
	listen      string
	metricsAddr string
	backend     string
	logLevel    string
	idleTimeout time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfg config

	cmd := &cobra.Command{
		Use:   "reactor-echo",
		Short: "TCP echo server driven by a single-goroutine reactor",
		Long: `reactor-echo accepts TCP connections and echoes back everything it reads.
All connections are multiplexed by one reactor goroutine, using poll or epoll.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseLevel(cfg.logLevel)
			if err != nil {
				return err
			}
			backend, err := parseBackend(cfg.backend)
			if err != nil {
				return err
			}
			return run(cmd.Context(), &server{
				logger:      newLogger(cmd.ErrOrStderr(), level),
				listen:      cfg.listen,
				metricsAddr: cfg.metricsAddr,
				backend:     backend,
				idleTimeout: cfg.idleTimeout,
			})
		},
	}

	cmd.Flags().StringVar(&cfg.listen, "listen", "127.0.0.1:7007", "TCP address to listen on")
	cmd.Flags().StringVar(&cfg.metricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on (disabled if empty)")
	cmd.Flags().StringVar(&cfg.backend, "backend", "default", "Readiness backend: default, poll or epoll")
	cmd.Flags().StringVar(&cfg.logLevel, "log-level", "info", "Log level: err, warning, info or debug")
	cmd.Flags().DurationVar(&cfg.idleTimeout, "idle-timeout", time.Minute, "Close connections idle for this long (0 disables)")

	return cmd
}

func parseLevel(s string) (logiface.Level, error) {
	for level := logiface.LevelEmergency; level <= logiface.LevelTrace; level++ {
		if level.String() == s {
			return level, nil
		}
	}
	return 0, fmt.Errorf("invalid log level %q", s)
}

func parseBackend(s string) (reactor.Backend, error) {
	for _, b := range [...]reactor.Backend{reactor.BackendDefault, reactor.BackendPoll, reactor.BackendEpoll} {
		if b.String() == s {
			return b, nil
		}
	}
	return 0, fmt.Errorf("invalid backend %q", s)
}
